package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/discovery/internal/activity"
	"github.com/onnwee/discovery/internal/api"
	"github.com/onnwee/discovery/internal/archive"
	"github.com/onnwee/discovery/internal/audit"
	"github.com/onnwee/discovery/internal/config"
	"github.com/onnwee/discovery/internal/density"
	"github.com/onnwee/discovery/internal/fairness"
	"github.com/onnwee/discovery/internal/feed"
	"github.com/onnwee/discovery/internal/idempotency"
	"github.com/onnwee/discovery/internal/impression"
	"github.com/onnwee/discovery/internal/interest"
	"github.com/onnwee/discovery/internal/jobs"
	"github.com/onnwee/discovery/internal/manipulation"
	"github.com/onnwee/discovery/internal/ranking"
	"github.com/onnwee/discovery/internal/refresh"
	"github.com/onnwee/discovery/internal/relevance"
	"github.com/onnwee/discovery/internal/tuning"
	"github.com/onnwee/discovery/internal/upstream"
)

// redisPrefix namespaces every key the engine writes.
const redisPrefix = "discovery"

// idempotencyCleanupJob drops expired view keys.
const idempotencyCleanupJob = "idempotency_cleanup"

// engine holds the wired discovery components.
type engine struct {
	logger      *slog.Logger
	index       *relevance.Index
	rotation    *density.Controller
	profiles    interest.Store
	detector    *manipulation.Detector
	feed        *feed.Service
	recorder    *impression.Recorder
	ingestor    *activity.Ingestor
	reports     fairness.Store
	broadcaster *fairness.Broadcaster
	audit       audit.Repository
	archive     *archive.Service
	runner      *jobs.Runner
}

type engineMetrics struct {
	activity     *activity.Metrics
	density      *density.Metrics
	fairness     *fairness.Metrics
	feed         *feed.Metrics
	impression   *impression.Metrics
	jobs         *jobs.Metrics
	manipulation *manipulation.Metrics
	refresh      *refresh.Metrics
	relevance    *relevance.Metrics
}

type registerer interface {
	Register(reg prometheus.Registerer) error
}

func (m engineMetrics) register(reg prometheus.Registerer) error {
	for _, r := range []registerer{
		m.activity, m.density, m.fairness, m.feed, m.impression,
		m.jobs, m.manipulation, m.refresh, m.relevance,
	} {
		if err := r.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

// upstreams are the external collaborators the engine reads from.
type upstreams struct {
	catalog upstream.Catalog
	content upstream.ContentSource
	intake  upstream.ModerationIntake
	source  activity.Source
	sink    activity.Sink
}

func buildUpstreams(cfg *config.Config, logger *slog.Logger) upstreams {
	if cfg.UpstreamURL != "" {
		client := upstream.NewHTTPClient(cfg.UpstreamURL, cfg.UpstreamToken, 5*time.Second)
		return upstreams{
			catalog: upstream.NewHTTPCatalog(client),
			content: upstream.NewHTTPContentSource(client),
			intake:  upstream.NewHTTPModerationIntake(client),
			source:  activity.NewHTTPSource(client, 0),
		}
	}
	logger.Warn("UPSTREAM_URL not set, using in-memory collaborators")
	memLog := activity.NewMemoryLog()
	return upstreams{
		catalog: upstream.NewInMemoryCatalog(),
		content: upstream.NewInMemoryContentSource(),
		intake:  upstream.NewRecordingIntake(),
		source:  memLog,
		sink:    memLog,
	}
}

func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB, rdb *redis.Client, up upstreams, reg prometheus.Registerer) (*engine, error) {
	calibration := ranking.DefaultCalibration()
	if cfg.CalibrationPath != "" {
		c, err := ranking.LoadCalibration(cfg.CalibrationPath)
		if err != nil {
			return nil, err
		}
		calibration = c
	}

	base := tuning.Params{
		GuaranteedSlots:  cfg.GuaranteedSlots,
		DensityThreshold: cfg.DensityThreshold,
		Reason:           "configured base",
	}

	var (
		checkpoint relevance.CheckpointStore = relevance.NewMemoryCheckpoint()
		counter    impression.Counter        = impression.NewMemoryCounter(impression.DefaultWindowDays)
		params     tuning.Store              = tuning.NewMemoryStore(base)
		profiles   interest.Store            = interest.NewInMemoryStore()
		reports    fairness.Store            = fairness.NewInMemoryStore()
		flags      manipulation.FlagStore    = manipulation.NewInMemoryFlagStore()
	)
	if rdb != nil {
		checkpoint = relevance.NewRedisCheckpoint(rdb, redisPrefix)
		counter = impression.NewRedisCounter(rdb, redisPrefix, impression.DefaultWindowDays)
		params = tuning.NewRedisStore(rdb, redisPrefix, base)
		profiles = interest.NewRedisStore(rdb, redisPrefix)
	}
	if db != nil {
		reports = fairness.NewPostgresStore(db)
		flags = manipulation.NewPostgresFlagStore(db)
	}

	metrics := engineMetrics{
		activity:     activity.NewMetrics(),
		density:      density.NewMetrics(),
		fairness:     fairness.NewMetrics(),
		feed:         feed.NewMetrics(),
		impression:   impression.NewMetrics(),
		jobs:         jobs.NewMetrics(),
		manipulation: manipulation.NewMetrics(),
		refresh:      refresh.NewMetrics(),
		relevance:    relevance.NewMetrics(),
	}
	if err := metrics.register(reg); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	auditRepo := audit.NewInMemoryRepository()

	classifier := manipulation.NewCompositeClassifier(manipulation.CombineNoisyOr,
		manipulation.NewKeywordClassifier(manipulation.DefaultKeywordRules()),
		manipulation.NewVisualClassifier(manipulation.VisualConfig{}),
	)
	detector := manipulation.NewDetector(manipulation.DetectorConfig{
		Bands:     calibration.Bands,
		RateLimit: 50,
		Burst:     10,
		Logger:    logger,
		Metrics:   metrics.manipulation,
		Audit:     auditRepo,
	}, classifier, up.content, flags, up.intake)

	index := relevance.NewIndex(checkpoint)
	aggregator := activity.NewAggregator(activity.DefaultTargetDuration)
	computer := relevance.NewComputer(relevance.ComputerConfig{
		Weights: calibration.Weights,
		Bands:   calibration.Bands,
		Logger:  logger,
		Metrics: metrics.relevance,
	}, index, aggregator, up.catalog, detector)

	rotation := density.NewController(density.Config{
		Logger:  logger,
		Metrics: metrics.density,
	}, counter, params)

	recorder := impression.NewRecorder(impression.RecorderConfig{
		Logger:  logger,
		Metrics: metrics.impression,
	}, counter)

	keys := idempotency.NewInMemoryRepository()
	ingestor := activity.NewIngestor(activity.IngestorConfig{
		Logger:  logger,
		Metrics: metrics.activity,
	}, profiles, keys, up.sink)

	svc := feed.NewService(feed.Config{
		Calibration: calibration,
		Logger:      logger,
		Metrics:     metrics.feed,
	}, index, rotation, profiles, ingestor, recorder)

	scheduler := refresh.NewScheduler(refresh.Config{
		Logger:     logger,
		Metrics:    metrics.refresh,
		JobMetrics: metrics.jobs,
	}, up.source, aggregator, profiles, computer, detector.Retry(), rotation, counter)

	broadcaster := fairness.NewBroadcaster(logger)
	auditorCfg := fairness.Config{
		Thresholds: fairness.Thresholds{
			MaxTopDecileShare:   cfg.MaxTopDecileShare,
			MinNewCreatorShare:  cfg.MinNewCreatorShare,
			MaxSpendCorrelation: cfg.MaxSpendCorrelation,
		},
		Base:      base,
		Logger:    logger,
		Metrics:   metrics.fairness,
		Audit:     auditRepo,
		Publisher: broadcaster,
	}

	var store *archive.Service
	if cfg.R2Enabled() {
		s, err := archive.NewService(archive.ServiceConfig{
			BucketName:      cfg.R2BucketName,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Endpoint:        cfg.R2Endpoint,
			Prefix:          cfg.R2Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create archive service: %w", err)
		}
		store = s
		auditorCfg.Archiver = s
	}
	auditor := fairness.NewAuditor(auditorCfg, counter, up.catalog, index, rotation, params, reports)

	runner := jobs.NewRunner(jobs.RunnerConfig{Logger: logger, Metrics: metrics.jobs})
	for _, job := range []jobs.Job{
		{
			Name:     jobs.JobTypeRelevanceRefresh,
			Schedule: cfg.RefreshSchedule,
			Timeout:  10 * time.Minute,
			Task: func(ctx context.Context) (any, error) {
				return scheduler.RunCycle(ctx)
			},
		},
		{
			Name:     jobs.JobTypeFairnessAudit,
			Schedule: cfg.FairnessSchedule,
			Timeout:  5 * time.Minute,
			Task: func(ctx context.Context) (any, error) {
				return auditor.RunAudit(ctx)
			},
		},
		{
			Name:     idempotencyCleanupJob,
			Schedule: "@every 1h",
			Task: func(ctx context.Context) (any, error) {
				return idempotency.Sweep(keys, idempotency.DefaultExpiry, logger)
			},
		},
	} {
		if err := runner.Add(job); err != nil {
			return nil, err
		}
	}

	// Serve the last checkpointed generation until the first cycle publishes.
	if _, err := index.Acquire(ctx); err != nil {
		logger.Info("no relevance checkpoint available, waiting for first refresh", "error", err)
	}

	return &engine{
		logger:      logger,
		index:       index,
		rotation:    rotation,
		profiles:    profiles,
		detector:    detector,
		feed:        svc,
		recorder:    recorder,
		ingestor:    ingestor,
		reports:     reports,
		broadcaster: broadcaster,
		audit:       auditRepo,
		archive:     store,
		runner:      runner,
	}, nil
}

// start launches background workers and runs the first refresh cycle so
// readiness does not wait for the schedule.
func (e *engine) start(ctx context.Context) {
	e.recorder.Start(ctx)
	e.ingestor.Start(ctx)
	e.runner.Start(ctx)
	go func() {
		if _, err := e.runner.RunNow(ctx, jobs.JobTypeRelevanceRefresh); err != nil {
			e.logger.Warn("initial relevance refresh did not run", "error", err)
		}
	}()
}

func (e *engine) stop() {
	e.runner.Stop()
	e.ingestor.Stop()
	e.recorder.Stop()
}

// reportArchive returns nil when object storage is not configured, keeping
// the interface value nil rather than a typed nil pointer.
func (e *engine) reportArchive() api.ReportArchive {
	if e.archive == nil {
		return nil
	}
	return e.archive
}

func (e *engine) exportArchive() api.ExportArchive {
	if e.archive == nil {
		return nil
	}
	return e.archive
}
