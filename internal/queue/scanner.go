package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"tiedye/internal/metrics"
	"tiedye/internal/worker"
)

// Processor handles one queue entry.
type Processor interface {
	Process(ctx context.Context, name string) error
}

// Scanner periodically lists the queue directory and hands entries it is
// not already working on to the processor pool. The in-flight set lives only
// as long as the process; after a restart the directory listing alone drives
// dispatch.
type Scanner struct {
	dir      *Dir
	proc     Processor
	pool     *worker.Pool
	interval time.Duration
	logger   *log.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	inFlight map[string]struct{}
	settled  sync.WaitGroup

	ctx  context.Context
	cron *cron.Cron
}

type ScannerOption func(*Scanner)

func WithMetrics(m *metrics.Metrics) ScannerOption {
	return func(s *Scanner) { s.metrics = m }
}

func NewScanner(dir *Dir, proc Processor, pool *worker.Pool, interval time.Duration, logger *log.Logger, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		dir:      dir,
		proc:     proc,
		pool:     pool,
		interval: interval,
		logger:   logger,
		inFlight: make(map[string]struct{}),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start scans once immediately, then on every interval until Stop.
func (s *Scanner) Start(ctx context.Context) error {
	const op = "queue.Scanner.Start"

	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	if n, err := s.dir.SweepStaging(time.Now()); err != nil {
		s.logger.Warn("sweeping staging directory failed", "err", err)
	} else if n > 0 {
		s.logger.Info("removed abandoned staging files", "count", n)
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		if _, err := s.Scan(ctx); err != nil {
			s.logger.Error("queue scan failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.Scan(ctx); err != nil {
		s.logger.Error("initial queue scan failed", "err", err)
	}
	s.cron.Start()
	s.logger.Info("queue scanner started", "dir", s.dir.Root(), "interval", s.interval, "workers", s.pool.Size())
	return nil
}

// Stop halts the schedule and waits for dispatched entries to settle.
func (s *Scanner) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.Wait()
	s.logger.Info("queue scanner stopped")
}

// Scan dispatches every listed entry that is not in flight and returns how
// many were dispatched.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	s.metrics.Scanned()
	names, err := s.dir.List()
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for _, name := range names {
		if s.dispatch(ctx, name) {
			dispatched++
		}
	}
	if dispatched > 0 {
		s.logger.Debug("queue scan", "listed", len(names), "dispatched", dispatched)
	}
	return dispatched, nil
}

// Dispatch hands a freshly placed entry to the processor without waiting for
// the next tick. It reports false when the entry is already in flight.
func (s *Scanner) Dispatch(name string) bool {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	return s.dispatch(ctx, name)
}

func (s *Scanner) dispatch(ctx context.Context, name string) bool {
	s.mu.Lock()
	if _, busy := s.inFlight[name]; busy {
		s.mu.Unlock()
		return false
	}
	s.inFlight[name] = struct{}{}
	s.settled.Add(1)
	s.mu.Unlock()
	s.metrics.DispatchStarted()

	f := s.pool.Submit(ctx, func(ctx context.Context) error {
		return s.proc.Process(ctx, name)
	})
	go func() {
		defer s.settled.Done()
		<-f.Done()
		if err := f.Err(); err != nil {
			s.logger.Error("error processing queue entry", "file", name, "err", err)
		}
		s.release(name)
	}()
	return true
}

func (s *Scanner) release(name string) {
	s.mu.Lock()
	delete(s.inFlight, name)
	s.mu.Unlock()
	s.metrics.DispatchSettled()
}

// InFlight returns the sorted names currently being processed.
func (s *Scanner) InFlight() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.inFlight))
	for name := range s.inFlight {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)
	return names
}

// Wait blocks until every dispatched entry has settled.
func (s *Scanner) Wait() {
	s.settled.Wait()
}
