// Package store owns rule identity and persistence: PostgreSQL with pgvector
// for the semantic embedding attached to each rule, and a uniqueness
// constraint on pattern_hash as the sole concurrency control for creation.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/redact-sentinel/internal/rules"
)

// ErrNotFound is returned by lookups and updates against a missing rule id or
// name.
var ErrNotFound = errors.New("rule not found")

// uniqueViolation is the PostgreSQL error code raised when the pattern_hash
// constraint rejects an insert.
const uniqueViolation = pq.ErrorCode("23505")

// Embedder produces the fixed-length vector indexed next to each rule.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config contains database configuration.
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// Store is the durable rule repository.
type Store struct {
	db       *sqlx.DB
	embedder Embedder
	logger   *zap.Logger
}

const ruleColumns = "id, name, domain, data_category, description, pattern, pattern_hash, active, created_at, updated_at"

// New connects to PostgreSQL, tunes the pool, and ensures the schema exists.
func New(config *Config, embedder Embedder, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	s := &Store{db: db, embedder: embedder, logger: logger}
	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Rule store initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return s, nil
}

// initialize checks the connection and creates the schema idempotently.
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to ensure pgvector extension: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS regex_rules (
			id            BIGSERIAL PRIMARY KEY,
			name          TEXT NOT NULL,
			domain        TEXT NOT NULL,
			data_category TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			pattern       TEXT NOT NULL,
			pattern_hash  TEXT NOT NULL UNIQUE,
			active        BOOLEAN NOT NULL DEFAULT TRUE,
			embedding     vector(768),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_regex_rules_name ON regex_rules (name);
		CREATE INDEX IF NOT EXISTS idx_regex_rules_domain ON regex_rules (domain);
		CREATE INDEX IF NOT EXISTS idx_regex_rules_data_category ON regex_rules (data_category)`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Info("Database schema ready")
	return nil
}

// Create validates the fields, attaches an embedding, and inserts the rule.
// If the insert loses a race on the pattern_hash constraint, the existing row
// is re-read and returned instead: create is idempotent under hash collision
// and the caller never sees the conflict.
func (s *Store) Create(ctx context.Context, f rules.Fields, active bool) (*rules.Rule, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	embedding, err := s.embedder.Embed(ctx, embeddingText(f))
	if err != nil {
		return nil, fmt.Errorf("failed to embed rule text: %w", err)
	}

	hash := rules.HashPattern(f.Pattern)
	rule := &rules.Rule{
		Name:         f.Name,
		Domain:       f.Domain,
		DataCategory: f.DataCategory,
		Description:  f.Description,
		Pattern:      f.Pattern,
		PatternHash:  hash,
		Active:       active,
		Embedding:    embedding,
	}

	query := `
		INSERT INTO regex_rules (name, domain, data_category, description, pattern, pattern_hash, active, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err = s.db.QueryRowContext(ctx, query,
		rule.Name,
		rule.Domain,
		rule.DataCategory,
		rule.Description,
		rule.Pattern,
		rule.PatternHash,
		rule.Active,
		formatEmbedding(rule.Embedding),
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)

	if err == nil {
		s.logger.Debug("Rule created",
			zap.Int64("id", rule.ID),
			zap.String("name", rule.Name),
			zap.String("pattern_hash", rule.PatternHash))
		return rule, nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		existing, getErr := s.getByHash(ctx, hash)
		if getErr != nil {
			return nil, fmt.Errorf("insert conflicted but existing rule not readable: %w", getErr)
		}
		s.logger.Warn("Duplicate rule blocked, returning existing row",
			zap.String("pattern_hash", hash),
			zap.Int64("existing_rule_id", existing.ID),
			zap.String("name", f.Name),
			zap.String("domain", f.Domain),
			zap.String("data_category", f.DataCategory))
		return existing, nil
	}

	return nil, fmt.Errorf("failed to insert rule: %w", err)
}

// GetByID returns one rule or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*rules.Rule, error) {
	var rule rules.Rule
	query := "SELECT " + ruleColumns + " FROM regex_rules WHERE id = $1"
	if err := s.db.GetContext(ctx, &rule, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rule by id: %w", err)
	}
	return &rule, nil
}

// GetByName returns the first rule with the given name or ErrNotFound.
func (s *Store) GetByName(ctx context.Context, name string) (*rules.Rule, error) {
	var rule rules.Rule
	query := "SELECT " + ruleColumns + " FROM regex_rules WHERE name = $1 ORDER BY id LIMIT 1"
	if err := s.db.GetContext(ctx, &rule, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rule by name: %w", err)
	}
	return &rule, nil
}

func (s *Store) getByHash(ctx context.Context, hash string) (*rules.Rule, error) {
	var rule rules.Rule
	query := "SELECT " + ruleColumns + " FROM regex_rules WHERE pattern_hash = $1"
	if err := s.db.GetContext(ctx, &rule, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rule by hash: %w", err)
	}
	return &rule, nil
}

// Filter composes independent equality predicates. A zero field means "no
// constraint", not "match empty".
type Filter struct {
	Domain       string
	DataCategory string
	Active       *bool
	Limit        int
	Offset       int
}

// buildListQuery assembles the filtered SELECT with positional args.
func buildListQuery(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.Domain != "" {
		args = append(args, f.Domain)
		clauses = append(clauses, fmt.Sprintf("domain = $%d", len(args)))
	}
	if f.DataCategory != "" {
		args = append(args, f.DataCategory)
		clauses = append(clauses, fmt.Sprintf("data_category = $%d", len(args)))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		clauses = append(clauses, fmt.Sprintf("active = $%d", len(args)))
	}

	query := "SELECT " + ruleColumns + " FROM regex_rules"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"

	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return query, args
}

// List returns rules matching the filter, ordered by id.
func (s *Store) List(ctx context.Context, f Filter) ([]rules.Rule, error) {
	query, args := buildListQuery(f)

	var out []rules.Rule
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return out, nil
}

// ListActive returns every rule the verifier should apply. The result is a
// snapshot of whatever is committed at call time.
func (s *Store) ListActive(ctx context.Context) ([]rules.Rule, error) {
	active := true
	return s.List(ctx, Filter{Active: &active})
}

// Update carries the fields to change; nil pointers are left untouched.
type Update struct {
	Name         *string
	Domain       *string
	DataCategory *string
	Description  *string
	Pattern      *string
	Active       *bool
}

// Update applies a partial update and returns the updated rule, or
// ErrNotFound. A pattern change re-validates the full record and recomputes
// the fingerprint.
func (s *Store) Update(ctx context.Context, id int64, u Update) (*rules.Rule, error) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := rules.Fields{
		Name:         current.Name,
		Domain:       current.Domain,
		DataCategory: current.DataCategory,
		Description:  current.Description,
		Pattern:      current.Pattern,
	}
	if u.Name != nil {
		merged.Name = *u.Name
	}
	if u.Domain != nil {
		merged.Domain = *u.Domain
	}
	if u.DataCategory != nil {
		merged.DataCategory = *u.DataCategory
	}
	if u.Description != nil {
		merged.Description = *u.Description
	}
	if u.Pattern != nil {
		merged.Pattern = *u.Pattern
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	active := current.Active
	if u.Active != nil {
		active = *u.Active
	}

	query := `
		UPDATE regex_rules
		SET name = $1, domain = $2, data_category = $3, description = $4,
		    pattern = $5, pattern_hash = $6, active = $7, updated_at = now()
		WHERE id = $8
		RETURNING ` + ruleColumns

	var rule rules.Rule
	err = s.db.GetContext(ctx, &rule, query,
		merged.Name,
		merged.Domain,
		merged.DataCategory,
		merged.Description,
		merged.Pattern,
		rules.HashPattern(merged.Pattern),
		active,
		id,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("pattern already used by another rule: %w", err)
		}
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	s.logger.Debug("Rule updated", zap.Int64("id", rule.ID), zap.String("name", rule.Name))
	return &rule, nil
}

// Deactivate flips active to false, the preferred removal path: verification
// only considers active rules.
func (s *Store) Deactivate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE regex_rules SET active = FALSE, updated_at = now() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	s.logger.Info("Rule deactivated", zap.Int64("id", id))
	return nil
}

// Delete hard-deletes a rule. Administrative use only.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM regex_rules WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	s.logger.Info("Rule deleted", zap.Int64("id", id))
	return nil
}

// SimilarRule is a rule scored against a semantic query.
type SimilarRule struct {
	rules.Rule
	Similarity float32
}

// SearchSimilar embeds the query and returns the closest rules by cosine
// similarity over the name+description embedding.
func (s *Store) SearchSimilar(ctx context.Context, query string, limit int) ([]SimilarRule, error) {
	if limit <= 0 {
		limit = 5
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	embeddingStr := formatEmbedding(embedding)

	sqlQuery := `
		SELECT ` + ruleColumns + `, embedding::text, (1 - (embedding <=> $1)) AS similarity
		FROM regex_rules
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, sqlQuery, embeddingStr, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var results []SimilarRule
	for rows.Next() {
		var result SimilarRule
		var stored string
		err := rows.Scan(
			&result.ID,
			&result.Name,
			&result.Domain,
			&result.DataCategory,
			&result.Description,
			&result.Pattern,
			&result.PatternHash,
			&result.Active,
			&result.CreatedAt,
			&result.UpdatedAt,
			&stored,
			&result.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan similarity result: %w", err)
		}

		result.Embedding, err = parseEmbedding(stored)
		if err != nil {
			s.logger.Error("Failed to parse stored embedding", zap.Int64("id", result.ID), zap.Error(err))
			continue
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	s.logger.Debug("Similarity search completed",
		zap.String("query", query),
		zap.Int("results", len(results)))

	return results, nil
}

// Count returns the total number of stored rules.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM regex_rules"); err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// embeddingText is the input indexed for semantic rule lookup.
func embeddingText(f rules.Fields) string {
	return f.Name + ". " + f.Description
}

// formatEmbedding converts a float32 slice to the PostgreSQL vector literal.
func formatEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}

	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseEmbedding converts a PostgreSQL vector literal back to a float32 slice.
func parseEmbedding(embeddingStr string) ([]float32, error) {
	embeddingStr = strings.Trim(embeddingStr, "[]")
	if embeddingStr == "" {
		return []float32{}, nil
	}

	parts := strings.Split(embeddingStr, ",")
	embedding := make([]float32, len(parts))
	for i, part := range parts {
		var val float32
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%g", &val); err != nil {
			return nil, fmt.Errorf("failed to parse embedding value: %w", err)
		}
		embedding[i] = val
	}
	return embedding, nil
}

// maskDatabaseURL masks the password component of a database URL for logging.
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
