// Package reconcile removes stored objects that no song record references.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/audioflow/audioflow/internal/storage"
)

// ErrSweepInProgress is returned when a sweep is requested while one is running.
var ErrSweepInProgress = errors.New("sweep already in progress")

// FileIndex answers which stored names still have a record.
type FileIndex interface {
	ExistingFileNames(ctx context.Context, kind string, names []string) (map[string]struct{}, error)
}

// Options configures a Service.
type Options struct {
	// Schedule is a cron spec or descriptor (e.g. "@every 1h").
	Schedule string
	// GracePeriod protects objects written by uploads that have not inserted their row yet.
	GracePeriod      time.Duration
	DeletesPerSecond int
	BatchSize        int
	Now              func() time.Time
}

// BackendReport summarizes one backend of a sweep.
type BackendReport struct {
	Kind        string `json:"kind"`
	Scanned     int    `json:"scanned"`
	Orphans     int    `json:"orphans"`
	Deleted     int    `json:"deleted"`
	Failed      int    `json:"failed"`
	TempsPurged int    `json:"temps_purged"`
	Skipped     bool   `json:"skipped"`
}

// Report is the outcome of a sweep.
type Report struct {
	StartedAt time.Time       `json:"started_at"`
	Took      time.Duration   `json:"took"`
	Backends  []BackendReport `json:"backends"`
}

type Service struct {
	router  *storage.Router
	index   FileIndex
	opts    Options
	limiter *rate.Limiter
	parser  cron.Parser
	cron    *cron.Cron
	running sync.Mutex
	logger  *slog.Logger
}

func NewService(log *slog.Logger, router *storage.Router, index FileIndex, opts Options) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.GracePeriod < 0 {
		return nil, fmt.Errorf("grace period must not be negative: %s", opts.GracePeriod)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limit := rate.Inf
	burst := 1
	if opts.DeletesPerSecond > 0 {
		limit = rate.Limit(opts.DeletesPerSecond)
		burst = opts.DeletesPerSecond
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		router:  router,
		index:   index,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		parser:  parser,
		cron:    cron.New(cron.WithParser(parser)),
		logger:  log.With(slog.String("service", "reconcile")),
	}, nil
}

// Start schedules periodic sweeps.
func (s *Service) Start() error {
	if _, err := s.parser.Parse(s.opts.Schedule); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", s.opts.Schedule, err)
	}
	if _, err := s.cron.AddFunc(s.opts.Schedule, s.runScheduled); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("reconcile scheduled", slog.String("schedule", s.opts.Schedule), slog.Duration("grace_period", s.opts.GracePeriod))
	return nil
}

// Stop stops the scheduler and waits for a running sweep until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runScheduled() {
	report, err := s.Sweep(context.Background())
	if err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			s.logger.Warn("previous sweep still running; skipped")
			return
		}
		s.logger.Error("sweep failed", slog.Any("error", err))
		return
	}
	s.logReport(report)
}

// Sweep scans every backend that can enumerate its objects and deletes objects
// older than the grace period that have no song record.
func (s *Service) Sweep(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		return Report{}, ErrSweepInProgress
	}
	defer s.running.Unlock()

	report := Report{StartedAt: s.opts.Now()}
	cutoff := report.StartedAt.Add(-s.opts.GracePeriod)
	var errs []error
	for _, kind := range s.router.Kinds() {
		strategy, err := s.router.RouteFor(kind)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		br, err := s.sweepBackend(ctx, strategy, cutoff)
		report.Backends = append(report.Backends, br)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("sweep %s: %w", kind, err))
		}
	}
	report.Took = time.Since(report.StartedAt)
	return report, errors.Join(errs...)
}

func (s *Service) sweepBackend(ctx context.Context, strategy storage.Strategy, cutoff time.Time) (BackendReport, error) {
	br := BackendReport{Kind: strategy.Kind()}
	log := s.logger.With(slog.String("backend", br.Kind))

	walker, ok := strategy.(storage.Walker)
	if !ok {
		br.Skipped = true
		return br, nil
	}

	batch := make([]string, 0, s.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		defer func() { batch = batch[:0] }()
		existing, err := s.index.ExistingFileNames(ctx, br.Kind, batch)
		if err != nil {
			return fmt.Errorf("check records: %w", err)
		}
		for _, name := range batch {
			if _, ok := existing[name]; ok {
				continue
			}
			br.Orphans++
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			if err := strategy.Delete(ctx, name); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
				br.Failed++
				log.Warn("delete orphan failed", slog.String("file", name), slog.Any("error", err))
				continue
			}
			br.Deleted++
			log.Info("orphan deleted", slog.String("file", name))
		}
		return nil
	}

	err := walker.Walk(ctx, func(obj storage.Object) error {
		if !storage.IsStoredName(obj.Name) {
			return nil
		}
		br.Scanned++
		if !obj.ModTime.Before(cutoff) {
			return nil
		}
		batch = append(batch, obj.Name)
		if len(batch) >= s.opts.BatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return br, err
	}

	if purger, ok := strategy.(storage.TempPurger); ok {
		n, err := purger.PurgeTemp(ctx, cutoff)
		br.TempsPurged = n
		if err != nil {
			return br, fmt.Errorf("purge temp files: %w", err)
		}
	}
	return br, nil
}

func (s *Service) logReport(r Report) {
	for _, b := range r.Backends {
		if b.Skipped {
			continue
		}
		s.logger.Info("sweep finished",
			slog.String("backend", b.Kind),
			slog.Int("scanned", b.Scanned),
			slog.Int("orphans", b.Orphans),
			slog.Int("deleted", b.Deleted),
			slog.Int("failed", b.Failed),
			slog.Int("temps_purged", b.TempsPurged),
			slog.Duration("took", r.Took))
	}
}
