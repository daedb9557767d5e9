// Package processor converts queued photos and publishes the result.
package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"

	"tiedye/internal/metrics"
	"tiedye/internal/models"
	"tiedye/internal/queue"
	"tiedye/internal/storage"
)

// ReadyNotifier is told about every photo that finished conversion.
type ReadyNotifier interface {
	PhotoReady(ctx context.Context, ev models.PhotoReadyEvent) error
}

type Processor struct {
	runner    *storage.Runner
	dir       *queue.Dir
	conv      Converter
	publicDir string
	notifier  ReadyNotifier
	logger    *log.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Processor)

func WithNotifier(n ReadyNotifier) Option {
	return func(p *Processor) { p.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func New(runner *storage.Runner, dir *queue.Dir, conv Converter, publicDir string, logger *log.Logger, opts ...Option) *Processor {
	p := &Processor{
		runner:    runner,
		dir:       dir,
		conv:      conv,
		publicDir: publicDir,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process converts the queue entry name into public storage and records the
// resulting filename on its photo. When the converter cannot run, the entry
// stays queued and the photo keeps no filename, so a later scan retries it.
// An input the converter rejects is quarantined instead.
func (p *Processor) Process(ctx context.Context, name string) error {
	const op = "processor.Process"
	logger := p.logger.With("file", name)
	input := p.dir.Path(name)

	// A scan listing can name an entry that finished between listing and
	// dispatch.
	if ok, err := afero.Exists(p.dir.Fs(), input); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	} else if !ok {
		logger.Debug("queue entry already gone")
		p.metrics.Result("gone")
		return nil
	}

	photoID, err := queue.ParseEntryName(name)
	if err != nil {
		logger.Warn("malformed queue entry, quarantining", "err", err)
		p.metrics.Result("malformed")
		if qerr := p.dir.Quarantine(name); qerr != nil {
			return fmt.Errorf("%s: %w", op, errors.Join(err, qerr))
		}
		return nil
	}
	logger.Info("processing", "photo", photoID)

	var photo *models.Photo
	err = p.runner.Run(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		got, err := storage.GetPhoto(ctx, tx, photoID)
		photo = got
		return err
	})
	if errors.Is(err, models.ErrPhotoNotFound) {
		logger.Warn("no photo for queue entry, removing", "photo", photoID)
		p.metrics.Result("orphan")
		if err := p.dir.Remove(name); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	if err != nil {
		p.metrics.Result("store_error")
		return fmt.Errorf("%s: %w", op, err)
	}

	output := filepath.Join(p.publicDir, name)
	start := p.now()
	res, err := p.conv.Convert(ctx, input, output)
	if errors.Is(err, models.ErrConversionFailed) {
		p.metrics.Result("conversion_failed")
		logger.Warn("conversion failed, quarantining", "photo", photo.ID, "err", err)
		if qerr := p.dir.Quarantine(name); qerr != nil {
			return fmt.Errorf("%s: %w", op, errors.Join(err, qerr))
		}
		return nil
	}
	if err != nil {
		p.metrics.Result("invocation_error")
		logger.Error("converter could not run, keeping queue entry", "err", err)
		return fmt.Errorf("%s: %w", op, &models.ProcessingInvocationError{Input: input, Err: err})
	}
	p.metrics.ObserveConvert(p.now().Sub(start).Seconds())
	if res.Output != "" {
		logger.Info("converter output", "output", res.Output)
	}
	if res.ExitCode != 0 {
		logger.Warn("converter exited non-zero", "exit_code", res.ExitCode)
	}

	filename := filepath.Base(output)
	err = p.runner.Run(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return storage.SetPhotoFilename(ctx, tx, photo.ID, filename)
	})
	if err != nil {
		p.metrics.Result("store_error")
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.dir.Remove(name); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p.metrics.Result("ok")
	logger.Info("processed", "photo", photo.ID, "output", output)

	if p.notifier != nil {
		ev := models.PhotoReadyEvent{
			PhotoID:   photo.ID,
			Filename:  filename,
			OwnerKind: photo.Kind,
			OwnerID:   photo.Owner.ID,
			ReadyAt:   p.now().UTC(),
		}
		if err := p.notifier.PhotoReady(ctx, ev); err != nil {
			logger.Warn("photo ready event not published", "photo", photo.ID, "err", err)
		}
	}
	return nil
}
