// Command learn runs learning episodes from the command line: verify whether
// the active rule set already covers a sensitive value, and if not, drive the
// synthesize-evaluate-judge loop until a rule is learned or the budget runs
// out.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/raaihank/redact-sentinel/internal/config"
	"github.com/raaihank/redact-sentinel/internal/embeddings"
	"github.com/raaihank/redact-sentinel/internal/learning"
	"github.com/raaihank/redact-sentinel/internal/logger"
	"github.com/raaihank/redact-sentinel/internal/oracle"
	"github.com/raaihank/redact-sentinel/internal/store"
)

type learnCase struct {
	Name           string        `json:"name"`
	SampleText     string        `json:"sample_text"`
	SensitiveValue string        `json:"sensitive_value"`
	MaxAttempts    int           `json:"max_attempts"`
	Hints          *oracle.Hints `json:"hints"`
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		sample     = flag.String("sample", "", "Sample text containing the sensitive value")
		value      = flag.String("value", "", "Sensitive value to learn a rule for")
		attempts   = flag.Int("attempts", 0, "Synthesis budget for this episode (0 = config default)")
		casesPath  = flag.String("cases", "", "Path to a JSON file with learning cases")
		skipVerify = flag.Bool("skip-verify", false, "Learn without checking existing coverage first")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cases, err := loadCases(*casesPath, *sample, *value, *attempts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	var embedder embeddings.Embedder = embeddings.NewClient(&cfg.Embedding, log.WithComponent("embeddings").Logger)
	if cfg.Embedding.Cache.Enabled {
		cached, err := embeddings.NewCachedEmbedder(&cfg.Embedding.Cache, embedder, log.WithComponent("embeddings").Logger)
		if err != nil {
			log.Fatal("Failed to initialize embedding cache", zap.Error(err))
		}
		embedder = cached
		defer cached.Close()
	}

	st, err := store.New(&cfg.Database, embedder, log.WithComponent("store").Logger)
	if err != nil {
		log.Fatal("Failed to initialize rule store", zap.Error(err))
	}
	defer st.Close()

	synth := oracle.NewSynthesizer(&cfg.Oracle, log.WithComponent("synthesis").Logger)
	judge := oracle.NewJudge(&cfg.Oracle, cfg.Learning.MaskChar, log.WithComponent("judge").Logger)
	verifier := learning.NewVerifier(st, judge, log.WithComponent("verifier").Logger)
	learner := learning.NewLearner(synth, judge, st, log.WithComponent("learner").Logger)

	ctx := context.Background()
	failures := 0

	for i, c := range cases {
		episodeLog := log.WithEpisode(fmt.Sprintf("%d/%d", i+1, len(cases)))
		if c.Name != "" {
			episodeLog.Info("Running case", zap.String("case", c.Name))
		}

		if !*skipVerify {
			covered, err := verifier.VerifyCoverage(ctx, c.SampleText, c.SensitiveValue)
			if err != nil {
				episodeLog.Error("Coverage verification failed", zap.Error(err))
				failures++
				continue
			}
			if covered {
				episodeLog.Info("Already covered, skipping learning")
				continue
			}
		}

		budget := c.MaxAttempts
		if budget <= 0 {
			budget = cfg.Learning.MaxAttempts
		}

		learned, err := learner.Learn(ctx, c.SampleText, c.SensitiveValue, budget, c.Hints)
		if err != nil {
			episodeLog.Error("Learning episode aborted", zap.Error(err))
			failures++
			continue
		}
		if !learned {
			failures++
		}
	}

	if failures > 0 {
		log.Warn("Some cases were not learned", zap.Int("failures", failures), zap.Int("total", len(cases)))
		os.Exit(1)
	}
}

// loadCases reads the case file, or builds a single case from flags.
func loadCases(casesPath, sample, value string, attempts int) ([]learnCase, error) {
	if casesPath != "" {
		data, err := os.ReadFile(casesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read cases file: %w", err)
		}
		var cases []learnCase
		if err := json.Unmarshal(data, &cases); err != nil {
			return nil, fmt.Errorf("failed to parse cases file: %w", err)
		}
		if len(cases) == 0 {
			return nil, fmt.Errorf("cases file is empty")
		}
		return cases, nil
	}

	if sample == "" || value == "" {
		return nil, fmt.Errorf("either -cases or both -sample and -value are required")
	}
	return []learnCase{{SampleText: sample, SensitiveValue: value, MaxAttempts: attempts}}, nil
}
