package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"tiedye/internal/events"
	"tiedye/internal/logging"
	"tiedye/internal/metrics"
	"tiedye/internal/models"
	"tiedye/internal/processor"
	"tiedye/internal/queue"
	"tiedye/internal/storage"
	"tiedye/internal/worker"
)

type publisher interface {
	processor.ReadyNotifier
	Close() error
}

// app holds the components shared by every subcommand that touches the
// queue or the database.
type app struct {
	cfg       *models.Config
	logger    *log.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	store     *storage.Storage
	storePool *worker.Pool
	procPool  *worker.Pool
	runner    *storage.Runner
	dir       *queue.Dir
	notifier  publisher
	scanner   *queue.Scanner
}

func newLogger(cfg *models.Config) *log.Logger {
	return logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
}

func newApp(ctx context.Context, cfg *models.Config) (*app, error) {
	const op = "main.newApp"

	a := &app{cfg: cfg, logger: newLogger(cfg)}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	store, err := storage.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.store = store
	a.storePool = worker.NewPool("store", cfg.Database.MaxConns)
	a.procPool = worker.NewPool("process", cfg.Processing.Workers)
	a.runner = storage.NewRunner(store, a.storePool)

	dir, err := queue.NewDir(afero.NewOsFs(), cfg.Queue)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.dir = dir
	if err := os.MkdirAll(cfg.PublicDir, 0o755); err != nil {
		store.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conv, err := newConverter(cfg.Processing)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		a.notifier = events.NewKafkaPublisher(cfg.Kafka)
		a.logger.Info("publishing ready events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	} else {
		a.notifier = events.Nop{}
	}

	proc := processor.New(a.runner, dir, conv, cfg.PublicDir, a.logger.WithPrefix("processor"),
		processor.WithNotifier(a.notifier),
		processor.WithMetrics(a.metrics))
	a.scanner = queue.NewScanner(dir, proc, a.procPool, cfg.Queue.ScanInterval, a.logger.WithPrefix("scanner"),
		queue.WithMetrics(a.metrics))
	return a, nil
}

func newConverter(cfg models.ProcessingConfig) (processor.Converter, error) {
	if len(cfg.Command) > 0 {
		return processor.NewCommandConverter(cfg.Command)
	}
	return &processor.ResizeConverter{MaxWidth: cfg.MaxWidth}, nil
}

func (a *app) close() {
	a.procPool.Wait()
	a.storePool.Wait()
	if err := a.notifier.Close(); err != nil {
		a.logger.Warn("closing event publisher", "err", err)
	}
	a.store.Close()
}
