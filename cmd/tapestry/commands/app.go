package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tapestry-ai/tapestry/internal/config"
	"github.com/tapestry-ai/tapestry/internal/etl"
	"github.com/tapestry-ai/tapestry/internal/llm"
	"github.com/tapestry-ai/tapestry/internal/observability"
	"github.com/tapestry-ai/tapestry/internal/storage"
	"github.com/tapestry-ai/tapestry/internal/store"
	"github.com/tapestry-ai/tapestry/internal/tapestry"
	"github.com/tapestry-ai/tapestry/pkg/version"
)

// metricsReadHeaderTimeout bounds header reads on the scrape endpoint.
const metricsReadHeaderTimeout = 5 * time.Second

// App bundles the wired services a command runs against. Commands open
// it lazily so flag parsing and help never touch the store.
type App struct {
	Config *config.Config
	Tap    *tapestry.Tapestry

	st         *store.Store
	providers  observability.Providers
	metricsSrv *http.Server
}

// appOpener builds an App from a config file path. Tests inject a stub.
type appOpener func(configPath string) (*App, error)

func openApp(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	providers, err := initObservability(cfg)
	if err != nil {
		return nil, err
	}

	mkdirErr := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755)
	if mkdirErr != nil {
		return nil, fmt.Errorf("create store directory: %w", mkdirErr)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	blobs, err := storage.NewFS(cfg.Storage.Dir)
	if err != nil {
		closeErr := st.Close()

		return nil, errors.Join(err, closeErr)
	}

	model := llm.NewHTTPModel(llm.ModelConfig{
		BaseURL:         cfg.LLM.BaseURL,
		APIKey:          cfg.LLM.APIKey,
		CompletionModel: cfg.LLM.CompletionModel,
		EmbeddingModel:  cfg.LLM.EmbeddingModel,
	})

	registry := etl.NewRegistry(etl.NewChatGPTPipe())
	client := llm.NewSyncClient(model, providers.Logger)
	tap := tapestry.New(st, blobs, registry, client, cfg, providers.Logger)

	app := &App{
		Config:    cfg,
		Tap:       tap,
		st:        st,
		providers: providers,
	}

	if cfg.Metrics.Addr != "" {
		metricsErr := app.startMetricsServer(cfg.Metrics.Addr)
		if metricsErr != nil {
			closeErr := app.Close(context.Background())

			return nil, errors.Join(metricsErr, closeErr)
		}
	}

	return app, nil
}

func initObservability(cfg *config.Config) (observability.Providers, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	obsCfg.LogLevel = observability.ParseLevel(cfg.Logging.Level)
	obsCfg.LogJSON = cfg.Logging.Format == "json"

	return observability.Init(obsCfg)
}

// startMetricsServer exposes /metrics and attaches orchestration
// instruments to the facade.
func (a *App) startMetricsServer(addr string) error {
	provider, handler, err := observability.PrometheusHandler()
	if err != nil {
		return err
	}

	metrics, err := observability.NewOrchestratorMetrics(provider.Meter("tapestry"))
	if err != nil {
		return err
	}

	a.Tap.Metrics = metrics

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	a.metricsSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	go func() {
		serveErr := a.metricsSrv.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			a.providers.Logger.Error("metrics server failed", "addr", addr, "error", serveErr)
		}
	}()

	return nil
}

// Close flushes telemetry and releases the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.metricsSrv != nil {
		errs = append(errs, a.metricsSrv.Shutdown(ctx))
	}

	if a.st != nil {
		errs = append(errs, a.st.Close())
	}

	if a.providers.Shutdown != nil {
		errs = append(errs, a.providers.Shutdown(ctx))
	}

	return errors.Join(errs...)
}
