package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meadowrx/dispense-cli/internal/audit"
	"github.com/meadowrx/dispense-cli/internal/cache"
	"github.com/meadowrx/dispense-cli/internal/catalog"
	"github.com/meadowrx/dispense-cli/internal/interpret"
	"github.com/meadowrx/dispense-cli/internal/pipeline"
	"github.com/meadowrx/dispense-cli/internal/selection"
	"github.com/meadowrx/dispense-cli/internal/standardize"
	"github.com/meadowrx/dispense-cli/internal/store"
	"github.com/meadowrx/dispense-cli/internal/validate"
	anthropicpkg "github.com/meadowrx/dispense-cli/pkg/anthropic"
	"github.com/meadowrx/dispense-cli/pkg/ndc"
	"github.com/meadowrx/dispense-cli/pkg/rxnorm"
)

// dispenseEnv holds the initialized store, clients, and pipeline needed by
// the dispense/batch/serve commands.
type dispenseEnv struct {
	Store    store.Store
	Cache    *cache.TieredCache
	Recorder *audit.Recorder
	RxNorm   rxnorm.Client
	NDC      ndc.Client
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (de *dispenseEnv) Close() {
	if de.Store != nil {
		_ = de.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.Path
		if dsn == "" {
			dsn = "dispense.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store, caches, API clients, and all five pipeline
// stages. Callers should defer env.Close().
func initEnv(ctx context.Context) (*dispenseEnv, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (DISPENSE_ANTHROPIC_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	tiered := cache.NewTiered(st, cfg.Cache.MaxItems)
	recorder := audit.NewRecorder(st)

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	rxnormClient := rxnorm.NewClient(
		rxnorm.WithBaseURL(cfg.RxNorm.BaseURL),
		rxnorm.WithRateLimit(cfg.RxNorm.RequestsPerS),
	)
	ndcOpts := []ndc.Option{ndc.WithBaseURL(cfg.NDC.BaseURL)}
	if cfg.NDC.Key != "" {
		ndcOpts = append(ndcOpts, ndc.WithAPIKey(cfg.NDC.Key))
	}
	ndcClient := ndc.NewClient(ndcOpts...)

	policy := validate.DefaultPolicy()
	if cfg.Policy.Path != "" {
		policy, err = validate.LoadPolicy(cfg.Policy.Path)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load validation policy")
		}
		zap.L().Info("validation policy loaded", zap.String("path", cfg.Policy.Path))
	}

	if cfg.Review.WebhookURL == "" {
		zap.L().Debug("DISPENSE_REVIEW_WEBHOOK_URL not set, review submissions disabled")
	}

	p := pipeline.New(
		interpret.New(anthropicClient, tiered, recorder, cfg.Anthropic.Model),
		standardize.New(rxnormClient, tiered, recorder),
		catalog.New(ndcClient, tiered, recorder),
		validate.NewValidator(policy),
		selection.NewEngine(selection.Options{
			MaxDistinctPackages: cfg.Selection.MaxDistinctPackages,
			MaxPerPackage:       cfg.Selection.MaxPerPackage,
			MaxOverfillPercent:  cfg.Selection.MaxOverfillPercent,
			PreferFewerPackages: cfg.Selection.PreferFewerPackages,
		}),
		validate.NewReviewSubmitter(cfg.Review.WebhookURL),
		recorder,
	)

	return &dispenseEnv{
		Store:    st,
		Cache:    tiered,
		Recorder: recorder,
		RxNorm:   rxnormClient,
		NDC:      ndcClient,
		Pipeline: p,
	}, nil
}
