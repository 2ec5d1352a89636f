package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"FeedScanner/internal/classifier"
	"FeedScanner/internal/config"
	"FeedScanner/internal/domain"
	"FeedScanner/internal/extraction"
	"FeedScanner/internal/infrastructure/feed"
	"FeedScanner/internal/infrastructure/llm"
	"FeedScanner/internal/infrastructure/lock"
	"FeedScanner/internal/infrastructure/parser"
	"FeedScanner/internal/infrastructure/scheduler"
	"FeedScanner/internal/infrastructure/storage"
	"FeedScanner/internal/infrastructure/telegram"
	"FeedScanner/internal/logging"
	"FeedScanner/internal/ports"
	"FeedScanner/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Repository
	pipeline  *usecase.Pipeline
	cron      *scheduler.CronScheduler
	scheduler *usecase.Scheduler
}

// Status describes the scheduler and run state without starting a run.
type Status struct {
	Processing bool
	LockHeld   bool
	LockPath   string
	Schedule   string
	Timezone   string
	NextRun    time.Time
	Driver     string
}

// New opens the store and builds every adapter the pipeline needs.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format, nil)
	}

	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	app, err := build(cfg, store, baseLogger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

func build(cfg config.Config, store *storage.Repository, baseLogger *slog.Logger) (*Application, error) {
	fetcher := feed.NewFetcher(nil, feed.Options{
		Timeout:           cfg.Feeds.Timeout,
		UserAgent:         cfg.Feeds.UserAgent,
		CredentialHeaders: cfg.Feeds.CredentialHeaders,
		CredentialScheme:  cfg.Feeds.CredentialScheme,
	}, baseLogger.With("component", "feed"))

	registry := extraction.NewRegistry(
		parser.NewInlineStrategy(),
		parser.NewScrapeStrategy(&http.Client{Timeout: cfg.Extraction.Timeout}, parser.ScrapeOptions{
			MinChars:  cfg.Extraction.MinChars,
			MaxChars:  cfg.Extraction.MaxChars,
			Timeout:   cfg.Extraction.Timeout,
			UserAgent: cfg.Feeds.UserAgent,
		}, baseLogger.With("component", "extraction.scrape")),
	)
	extractor, err := extraction.NewExtractor(registry, cfg.Extraction.Strategy, baseLogger.With("component", "extraction"))
	if err != nil {
		return nil, err
	}

	completer, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	classify := classifier.New(completer, classifier.Options{
		MinInterval:     cfg.Classifier.MinInterval,
		MaxContentChars: cfg.Classifier.MaxContentChars,
		UnknownCategory: cfg.Classifier.UnknownCategory,
		SystemPrompt:    cfg.LLM.SystemPrompt,
	}, baseLogger.With("component", "classifier"))

	var runLock ports.RunLock
	if cfg.Lock.Path != "" {
		fileLock, err := lock.NewFileLock(cfg.Lock.Path)
		if err != nil {
			return nil, err
		}
		runLock = fileLock
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Catalog:     store,
		Repository:  store,
		Fetcher:     fetcher,
		Extractor:   extractor,
		Classifier:  classify,
		Lock:        runLock,
		Logger:      baseLogger.With("component", "pipeline"),
		Concurrency: cfg.Feeds.Concurrency,
	})

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	cron := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location(), baseLogger.With("component", "scheduler"))

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		store:     store,
		pipeline:  pipeline,
		cron:      cron,
		scheduler: usecase.NewScheduler(cron, pipeline, notifier, baseLogger.With("component", "runner")),
	}, nil
}

// Close releases the database handle.
func (a *Application) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// RunOnce executes a single pipeline pass and publishes its digest.
func (a *Application) RunOnce(ctx context.Context) domain.Outcome {
	return a.scheduler.RunOnce(ctx)
}

// Serve runs the pipeline on the configured schedule until ctx is cancelled.
// Every value received on triggers starts an extra run unless one is in flight.
// On return no run started by Serve is still executing, unless the 30s grace
// period ran out.
func (a *Application) Serve(ctx context.Context, triggers <-chan struct{}) error {
	if err := a.cron.Validate(); err != nil {
		return err
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler running",
		"cron", a.cfg.Scheduler.CronExpression,
		"timezone", a.cfg.Scheduler.Location().String(),
	)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-triggers:
			if !a.TriggerRun(ctx, nil) {
				a.logger.Info("trigger ignored, already processing")
			}
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.scheduler.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	a.logger.Info("scheduler stopped")
	return nil
}

// TriggerRun starts a run in the background and reports false when one is
// already in flight. done, when set, receives the outcome.
func (a *Application) TriggerRun(ctx context.Context, done func(domain.Outcome)) bool {
	return a.scheduler.Trigger(ctx, done)
}

// Status reports whether a run is in flight and when the next one is due.
func (a *Application) Status() (Status, error) {
	st := Status{
		Processing: a.pipeline.Busy(),
		LockPath:   a.cfg.Lock.Path,
		Schedule:   a.cfg.Scheduler.CronExpression,
		Timezone:   a.cfg.Scheduler.Location().String(),
		Driver:     a.store.Driver(),
	}

	var errs []error
	if st.LockPath != "" && !st.Processing {
		held, err := lock.Held(st.LockPath)
		if err != nil {
			errs = append(errs, err)
		}
		st.LockHeld = held
	}
	next, err := a.cron.Next(time.Now())
	if err != nil {
		errs = append(errs, err)
	}
	st.NextRun = next
	return st, errors.Join(errs...)
}

// ClearAll removes every stored item.
func (a *Application) ClearAll(ctx context.Context) (int64, error) {
	return a.pipeline.ClearAll(ctx)
}

// Items lists the most recently ingested items.
func (a *Application) Items(ctx context.Context, limit int) ([]domain.Item, error) {
	return a.store.RecentItems(ctx, limit)
}

// Seed writes the configured sources and categories into the catalog.
func (a *Application) Seed(ctx context.Context) (sources, categories int, err error) {
	for _, src := range a.cfg.Seed.Sources {
		if err := a.store.UpsertSource(ctx, domain.FeedSource{
			Name:      src.Name,
			URL:       src.URL,
			AccessKey: src.AccessKey,
			Active:    src.IsActive(),
		}); err != nil {
			return sources, categories, fmt.Errorf("seed source %s: %w", src.Name, err)
		}
		sources++
	}
	for _, cat := range a.cfg.Seed.Categories {
		if err := a.store.UpsertCategory(ctx, domain.Category{
			Name:        cat.Name,
			Description: cat.Description,
			Color:       cat.Color,
			Active:      cat.IsActive(),
		}); err != nil {
			return sources, categories, fmt.Errorf("seed category %s: %w", cat.Name, err)
		}
		categories++
	}
	a.logger.Info("catalog seeded", "sources", sources, "categories", categories)
	return sources, categories, nil
}
