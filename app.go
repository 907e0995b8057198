package main

import (
	"context"
	"errors"
	"fmt"
)

// App holds the wired components for one process
type App struct {
	Config     *Config
	Ledger     Ledger
	Budget     *BudgetGuard
	Supervisor *Supervisor

	closers []func() error
}

// NewApp builds the pipeline from the config. dryRun swaps in an in-memory
// ledger and an actor that only logs.
func NewApp(ctx context.Context, cfg *Config, dryRun bool) (*App, error) {
	s := cfg.Settings
	app := &App{Config: cfg}

	ledger, err := openLedger(s, dryRun)
	if err != nil {
		return nil, err
	}
	app.Ledger = ledger
	app.closers = append(app.closers, ledger.Close)

	store, err := openBudgetStore(s, cfg.Secrets, ledger, dryRun)
	if err != nil {
		app.Close()
		return nil, err
	}
	if rs, ok := store.(*RedisBudgetStore); ok {
		app.closers = append(app.closers, rs.Close)
	}
	app.Budget, err = NewBudgetGuard(store, limitsFromSettings(s))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("budget: %w", err)
	}

	source, err := openSource(s, cfg.Secrets)
	if err != nil {
		app.Close()
		return nil, err
	}
	var actor Actor = source
	if dryRun {
		actor = DryRunActor{}
	}

	scorer, err := newScorer(ctx, s, cfg.Secrets)
	if err != nil {
		app.Close()
		return nil, err
	}
	ranker := NewRanker(scorer, s.Ranking.MinScore, s.Ranking.Concurrency, s.Ranking.Timeout)

	classifier, err := NewAnthropicClassifier(cfg.Secrets.AnthropicAPIKey, s.Kernel)
	if err != nil {
		app.Close()
		return nil, err
	}
	kernel := NewKernel(classifier, cfg.GetSystemPrompt(), cfg.GetDecisionSchema(), s.Kernel)

	app.Supervisor = NewSupervisor(s, source, actor, ranker, kernel, ledger, app.Budget)
	return app, nil
}

// Close releases the ledger and budget connections
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openLedger(s *Settings, dryRun bool) (Ledger, error) {
	if dryRun {
		logger.Infof("Dry run: using an in-memory ledger")
		return NewMemoryLedger(), nil
	}
	ledger, err := OpenLedger(s.Ledger.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return ledger, nil
}

func openBudgetStore(s *Settings, secrets Secrets, ledger Ledger, dryRun bool) (BudgetStore, error) {
	if dryRun {
		return ledger, nil
	}
	switch s.Budget.Store {
	case "memory":
		return NewMemoryLedger(), nil
	case "redis":
		if secrets.RedisURL == "" {
			return nil, errors.New("budget.store is redis but REDIS_URL is not set")
		}
		store, err := NewRedisBudgetStore(secrets.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return store, nil
	default:
		return ledger, nil
	}
}

func openSource(s *Settings, secrets Secrets) (SourceActor, error) {
	switch s.Source.Kind {
	case "file":
		if s.Source.Fixture == "" {
			return nil, errors.New("source.kind is file but source.fixture is empty")
		}
		src, err := LoadFileSource(s.Source.Fixture)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return NewHTTPSource(s.Source.BaseURL, secrets.SourceToken, s.Source.Timeout, s.Source.MaxRetries), nil
	}
}

// newScorer prefers embeddings and falls back to keyword overlap when no key is set
func newScorer(ctx context.Context, s *Settings, secrets Secrets) (Scorer, error) {
	if s.Ranking.Embedder.Provider == "keyword" {
		return KeywordScorer{}, nil
	}
	if secrets.GeminiAPIKey == "" {
		logger.Warnf("GEMINI_API_KEY not set, ranking by keyword overlap")
		return KeywordScorer{}, nil
	}
	embedder, err := NewGenAIEmbedder(ctx, secrets.GeminiAPIKey, s.Ranking.Embedder.Model)
	if err != nil {
		return nil, err
	}
	return NewEmbeddingScorer(embedder, s.Ranking.Embedder.CacheSize)
}
