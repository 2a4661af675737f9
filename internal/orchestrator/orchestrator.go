// Package orchestrator implements C10 Orchestrator: the process-lifetime
// owner that constructs the JobStore, TempArena, JobLogger and
// PipelineQueues, starts the four stage worker pools plus RecoveryLoop and
// JanitorLoop, and coordinates graceful shutdown. It is the single place
// that wires the Dispatcher<->RecoveryLoop cycle behind the
// dispatcher.Enqueuer port, per spec §9's design note, and replaces the
// teacher's process-wide statics with one value the HTTP handlers are
// handed explicitly (no package-level mutable globals).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mp3pipeline/internal/config"
	"mp3pipeline/internal/cpuload"
	"mp3pipeline/internal/dispatcher"
	"mp3pipeline/internal/domain"
	"mp3pipeline/internal/eventlog"
	"mp3pipeline/internal/fetch"
	"mp3pipeline/internal/janitor"
	"mp3pipeline/internal/media"
	"mp3pipeline/internal/pipeline"
	"mp3pipeline/internal/recovery"
	"mp3pipeline/internal/storage"
	"mp3pipeline/internal/store"
	"mp3pipeline/internal/temparena"
	"mp3pipeline/internal/worker"
	"mp3pipeline/internal/ytresolve"
)

// Orchestrator owns every long-lived collaborator and the goroutines that
// run them. Construct with New, then Start/Shutdown once per process
// lifetime.
type Orchestrator struct {
	cfg    *config.Config
	logger *slog.Logger

	Store   store.Store
	Arena   *temparena.Arena
	Events  *eventlog.Logger
	Stages  *pipeline.Stages
	Objects storage.Store
	CPU     *cpuload.Gauge

	dispatch *dispatcher.Dispatcher

	downloadPool *worker.Pool
	youtubePool  *worker.Pool
	convertPool  *worker.Pool
	uploadPool   *worker.Pool

	recoveryLoop *recovery.Loop
	janitorLoop  *janitor.Loop

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs every collaborator from cfg but starts nothing. Callers
// that only need the Store/Dispatcher (e.g. the reference HTTP server)
// can use the exported fields before calling Start.
func New(cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open store: %w", err)
	}

	arena, err := temparena.New(cfg.TempDirectory, cfg.MaxTempSizeBytes)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("orchestrator: new temp arena: %w", err)
	}

	objects, err := openObjectStore(cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("orchestrator: open object store: %w", err)
	}

	events := eventlog.New(st, logger, 0, 0)

	stages := pipeline.NewStages(
		cfg.DownloadQueueCapacity,
		cfg.YoutubeQueueCapacity,
		cfg.ConvertQueueDepth(),
		cfg.UploadQueueCapacity,
	)

	dispatch := dispatcher.New(st, events, stages, logger)

	httpClient := fetch.New(time.Duration(cfg.YoutubeOperationTimeoutSeconds)*time.Second, cfg.MaxFileSizeBytes)
	transcoder := media.NewFFmpegProcessor(cfg.TranscoderPath)
	resolver := ytresolve.NewStub()
	gauge := cpuload.New(0)

	downloadWorker := worker.NewDownload(st, events, arena, objects, httpClient, cfg.AllowedFileTypeSet(), stages.Download, stages.Convert, logger)
	youtubeWorker := worker.NewYoutube(
		st, events, arena, resolver, httpClient, stages.Youtube, stages.Upload,
		cfg.YoutubeMaxRetryAttempts, time.Duration(cfg.YoutubeRetryDelaySeconds)*time.Second, logger,
	)
	convertWorker := worker.NewConvert(st, events, arena, transcoder, cfg.TranscoderBitrate, stages.Convert, stages.Upload, logger)
	uploadWorker := worker.NewUpload(st, events, arena, objects, stages.Upload, logger)

	downloadPool := worker.NewPool("download", cfg.MaxConcurrentDownloads, logger, downloadWorker.Run)
	youtubePool := worker.NewPool("youtube", cfg.MaxConcurrentYoutubeDownloads, logger, youtubeWorker.Run)
	convertPool := worker.NewPool("convert", cfg.ConvertWorkers(), logger, convertWorker.Run)
	uploadPool := worker.NewPool("upload", cfg.MaxConcurrentUploads, logger, uploadWorker.Run)

	recoveryLoop := recovery.New(
		st, events, dispatch,
		time.Duration(cfg.RecoveryIntervalMinutes)*time.Minute,
		time.Duration(cfg.StaleJobThresholdMinutes)*time.Minute,
		cfg.JobRetryLimit,
		logger,
	)

	janitorLoop := janitor.New(
		st, objects, arena,
		24*time.Hour,
		time.Duration(cfg.CachingSlidingExpirationHours)*time.Hour,
		time.Duration(cfg.CachingDefaultExpirationDays)*24*time.Hour,
		time.Duration(cfg.LogRetentionDays)*24*time.Hour,
		logger,
	)

	return &Orchestrator{
		cfg:          cfg,
		logger:       logger,
		Store:        st,
		Arena:        arena,
		Events:       events,
		Stages:       stages,
		Objects:      objects,
		CPU:          gauge,
		dispatch:     dispatch,
		downloadPool: downloadPool,
		youtubePool:  youtubePool,
		convertPool:  convertPool,
		uploadPool:   uploadPool,
		recoveryLoop: recoveryLoop,
		janitorLoop:  janitorLoop,
		done:         make(chan struct{}),
	}, nil
}

// Dispatcher returns the Enqueuer port for the reference HTTP server and
// RecoveryLoop to submit job ids through — the one path by which a job id
// becomes a pipeline payload.
func (o *Orchestrator) Dispatcher() dispatcher.Enqueuer {
	return o.dispatch
}

// Start launches the JobLogger flusher, all four stage worker pools, and
// both background loops. It returns immediately; use Shutdown to drain
// and stop everything started here.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.Events.Start()
	go o.CPU.Run(ctx, 2*time.Second)

	o.downloadPool.Start(ctx)
	o.youtubePool.Start(ctx)
	o.convertPool.Start(ctx)
	o.uploadPool.Start(ctx)

	go o.recoveryLoop.Run(ctx)
	go o.janitorLoop.Run(ctx)

	o.logger.Info("orchestrator started",
		slog.Int("download_workers", o.cfg.MaxConcurrentDownloads),
		slog.Int("youtube_workers", o.cfg.MaxConcurrentYoutubeDownloads),
		slog.Int("convert_workers", o.cfg.ConvertWorkers()),
		slog.Int("upload_workers", o.cfg.MaxConcurrentUploads),
	)
}

// Submit validates and persists a new job, then hands it to the
// Dispatcher. Used directly by tests and by the reference server's
// handlers through the narrower Dispatcher() port.
func (o *Orchestrator) Submit(ctx context.Context, job *domain.Job) error {
	if err := o.Store.Create(ctx, job); err != nil {
		return err
	}
	o.Events.Log(domain.LogEvent{
		JobID: job.ID, BatchID: job.BatchID, EventType: domain.EventJobCreated,
		JobStatus: domain.StatusPending, Message: "job created",
	})
	o.dispatch.Dispatch(ctx, job.ID)
	return nil
}

// Shutdown implements spec §4.10's shutdown sequence: close the queues to
// new producers, let workers drain what they already hold, then stop the
// loops, flush the JobLogger, and close the Store. The TempArena holds no
// open handles, so nothing is released for it here.
// Blocks until every pool's goroutines have returned or the given context
// expires.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.Stages.CloseAll()

	drained := make(chan struct{})
	go func() {
		o.downloadPool.Wait()
		o.youtubePool.Wait()
		o.convertPool.Wait()
		o.uploadPool.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		o.logger.Warn("orchestrator: shutdown deadline exceeded, workers still draining")
	}

	if o.cancel != nil {
		o.cancel()
	}

	o.Events.Stop()

	if err := o.Store.Close(); err != nil {
		o.logger.Error("orchestrator: store close failed", "error", err)
	}

	o.logger.Info("orchestrator stopped")
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.DBPath == "" || cfg.DBPath == ":memory:" {
		return store.NewMemory(), nil
	}
	return store.Open(cfg.DBPath)
}

func openObjectStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Store(context.Background(), storage.Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("object store: s3 configured", slog.String("bucket", cfg.S3Bucket), slog.String("region", cfg.S3Region))
		return s3Store, nil
	}
	localStore, err := storage.NewLocalStore(cfg.TempDirectory + "/objects")
	if err != nil {
		return nil, err
	}
	logger.Info("object store: local disk configured", slog.String("dir", cfg.TempDirectory+"/objects"))
	return localStore, nil
}
