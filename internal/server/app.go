// Package server assembles the review service from its parts and runs it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/vendor-review-pipeline/internal/analysis"
	"github.com/JakeFAU/vendor-review-pipeline/internal/api"
	"github.com/JakeFAU/vendor-review-pipeline/internal/audit"
	"github.com/JakeFAU/vendor-review-pipeline/internal/capability"
	"github.com/JakeFAU/vendor-review-pipeline/internal/classify"
	"github.com/JakeFAU/vendor-review-pipeline/internal/clock/system"
	"github.com/JakeFAU/vendor-review-pipeline/internal/config"
	"github.com/JakeFAU/vendor-review-pipeline/internal/discovery"
	eventMemory "github.com/JakeFAU/vendor-review-pipeline/internal/eventlog/memory"
	collyfetcher "github.com/JakeFAU/vendor-review-pipeline/internal/fetcher/colly"
	headlessfetch "github.com/JakeFAU/vendor-review-pipeline/internal/fetcher/headless"
	"github.com/JakeFAU/vendor-review-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/vendor-review-pipeline/internal/headless/detector"
	iduuid "github.com/JakeFAU/vendor-review-pipeline/internal/id/uuid"
	"github.com/JakeFAU/vendor-review-pipeline/internal/logging"
	"github.com/JakeFAU/vendor-review-pipeline/internal/metrics"
	"github.com/JakeFAU/vendor-review-pipeline/internal/policy/ratelimit"
	queueMemory "github.com/JakeFAU/vendor-review-pipeline/internal/queue/memory"
	queuePubsub "github.com/JakeFAU/vendor-review-pipeline/internal/queue/pubsub"
	registryMemory "github.com/JakeFAU/vendor-review-pipeline/internal/registry/memory"
	registryPostgres "github.com/JakeFAU/vendor-review-pipeline/internal/registry/postgres"
	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
	sessionMemory "github.com/JakeFAU/vendor-review-pipeline/internal/session/memory"
	storageGCS "github.com/JakeFAU/vendor-review-pipeline/internal/storage/gcs"
	storageLocal "github.com/JakeFAU/vendor-review-pipeline/internal/storage/local"
	storageMemory "github.com/JakeFAU/vendor-review-pipeline/internal/storage/memory"
	"github.com/JakeFAU/vendor-review-pipeline/internal/workflow"
)

// App holds the assembled service: the HTTP surface, the workflow engine and
// the infrastructure both depend on.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	apiServer *api.Server
	engine    *workflow.Engine

	memQueue *queueMemory.Queue
	psQueue  *queuePubsub.Queue

	headless   *headlessfetch.Fetcher
	pgRegistry *registryPostgres.Registry
}

// Build loads configuration and wires every component. Optional
// infrastructure (Postgres, Pub/Sub, GCS, headless Chrome, the capability
// platform) falls back to in-process implementations when unconfigured, so a
// bare binary is still a working development service.
func Build(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}

	blobs, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	registry, err := app.setupRegistry(ctx)
	if err != nil {
		return nil, err
	}

	sessions := sessionMemory.NewStore()
	events := eventMemory.NewLog()
	clock := system.New()
	ids := iduuid.NewUUIDGenerator()

	invoker := app.setupInvoker()
	classifier := classify.New(invoker, logger)

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Discovery.UserAgent,
		RespectRobots: cfg.Discovery.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})
	headlessFetcher, err := app.setupHeadless()
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Discovery.PerHostRPS,
		DefaultBurst: cfg.Discovery.PerHostBurst,
	})

	discoverer := discovery.New(
		probe,
		headlessFetcher,
		detector.NewHeuristic(cfg.Headless.PromotionThresh),
		classifier,
		limiter,
		blobs,
		sha256.New(),
		clock,
		discovery.Config{
			MaxDepth:        cfg.Discovery.MaxDepth,
			MaxDocuments:    cfg.Discovery.MaxDocuments,
			MaxLinksPerPage: cfg.Discovery.MaxLinksPerPage,
			Workers:         cfg.Discovery.Workers,
			FetchTimeout:    cfg.FetchTimeout(),
		},
		logger,
	)

	analyzer := analysis.New(invoker, clock, analysis.Config{Workers: cfg.Analysis.Workers}, logger)
	auditor := audit.NewWriter(blobs, clock, audit.Config{}, logger)

	app.engine = workflow.New(sessions, events, registry, discoverer, analyzer, auditor, ids, clock, logger)

	queue, err := app.setupQueue(ctx)
	if err != nil {
		return nil, err
	}
	app.apiServer = api.NewServer(queue, sessions, events, registry, ids, clock, cfg, logger)

	return app, nil
}

func (a *App) setupStorage(ctx context.Context) (review.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return storageGCS.New(client, storageGCS.Config{Bucket: a.cfg.Storage.GCSBucket})
	case "local":
		return storageLocal.New(storageLocal.Config{BaseDir: a.cfg.Storage.LocalDir})
	default:
		a.logger.Warn("using in-memory blob store, artifacts will not survive restarts")
		return storageMemory.NewBlobStore(), nil
	}
}

func (a *App) setupRegistry(ctx context.Context) (review.Registry, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no db.dsn configured, using in-memory registry")
		return registryMemory.NewRegistry(), nil
	}
	registry, err := registryPostgres.New(ctx, registryPostgres.Config{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        int32(a.cfg.DB.MaxConns),
		MinConns:        int32(a.cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(a.cfg.DB.ConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	a.pgRegistry = registry
	return registry, nil
}

func (a *App) setupInvoker() review.Invoker {
	if !a.cfg.Capability.Configured() {
		a.logger.Warn("capability platform unconfigured, analysis will degrade")
		return offlineInvoker{}
	}
	return capability.NewClient(capability.Config{
		BaseURL:      a.cfg.Capability.BaseURL,
		OrgID:        a.cfg.Capability.OrgID,
		ProjectID:    a.cfg.Capability.ProjectID,
		TokenURL:     a.cfg.Capability.TokenURL,
		ClientID:     a.cfg.Capability.ClientID,
		ClientSecret: a.cfg.Capability.ClientSecret,
		Tasks:        a.cfg.Capability.Tasks,
		CallTimeout:  a.cfg.CapabilityTimeout(),
	}, a.logger)
}

func (a *App) setupHeadless() (review.Fetcher, error) {
	if !a.cfg.Headless.Enabled {
		return headlessfetch.NewNoop(), nil
	}
	fetcher, err := headlessfetch.NewChromedp(headlessfetch.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.Discovery.UserAgent,
		NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	a.headless = fetcher
	return fetcher, nil
}

func (a *App) setupQueue(ctx context.Context) (api.TriggerQueue, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.memQueue = queueMemory.NewQueue(a.cfg.Discovery.QueueDepth)
		return a.memQueue, nil
	}
	queue, err := queuePubsub.New(ctx, queuePubsub.Config{
		ProjectID:      a.cfg.PubSub.ProjectID,
		TopicID:        a.cfg.PubSub.TopicID,
		SubscriptionID: a.cfg.PubSub.SubscriptionID,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.psQueue = queue
	return queue, nil
}

// Run starts the trigger worker and the HTTP server, then blocks until the
// context ends or a signal arrives. Shutdown drains the HTTP server before
// returning.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- a.runWorker(ctx)
	}()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverDone := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.Int("port", a.cfg.Server.Port))
		serverDone <- httpServer.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case err := <-workerDone:
		workerDone = nil
		if err != nil {
			runErr = fmt.Errorf("trigger worker: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	// Release the worker in case shutdown was not driven by a signal.
	stop()
	if workerDone != nil {
		<-workerDone
	}
	return runErr
}

func (a *App) runWorker(ctx context.Context) error {
	if a.psQueue != nil {
		return a.psQueue.Receive(ctx, a.engine.Handle)
	}
	err := a.engine.Run(ctx, a.memQueue)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases external resources. Safe to call after Run returns.
func (a *App) Close() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	if a.psQueue != nil {
		if err := a.psQueue.Close(); err != nil {
			a.logger.Warn("close pubsub queue", zap.Error(err))
		}
	}
	if a.pgRegistry != nil {
		a.pgRegistry.Close()
	}
	_ = a.logger.Sync()
}

// offlineInvoker stands in when the capability platform is unconfigured.
// Every call fails, which the analysis dispatcher records as degraded.
type offlineInvoker struct{}

func (offlineInvoker) Invoke(_ context.Context, capabilityName string, _ map[string]any) (json.RawMessage, error) {
	return nil, &review.CapabilityError{
		Capability: capabilityName,
		Err:        fmt.Errorf("capability platform not configured"),
	}
}
