// Package scheduler runs periodic jobs: evaluation passes, feedback sync and
// metadata refetch.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/logger"
)

// Job is one named periodic task. Run is never called concurrently with
// itself: a tick that fires while the previous run is still going is dropped.
type Job struct {
	Name     string
	Interval time.Duration
	// RunAtStart triggers one run as soon as the scheduler starts.
	RunAtStart bool
	Run        func(ctx context.Context) error
}

type Ticker struct {
	jobs   []Job
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func New(log *zap.Logger, jobs ...Job) *Ticker {
	return &Ticker{jobs: jobs, logger: logger.OrNop(log)}
}

// Start launches one loop per job. It returns an error if a job is invalid or
// the ticker is already running.
func (t *Ticker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return errors.New("scheduler already running")
	}
	for _, job := range t.jobs {
		if job.Interval <= 0 || job.Run == nil {
			return errors.NewConfigurationError("job %q needs a positive interval and a run function", job.Name)
		}
	}

	ctx, t.cancel = context.WithCancel(ctx)
	t.running = true

	for _, job := range t.jobs {
		t.wg.Add(1)
		go t.loop(ctx, job)
	}

	t.logger.Info("scheduler started", zap.Int("jobs", len(t.jobs)))

	return nil
}

// Stop cancels every loop and waits for in-flight runs to return.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.cancel()
	t.running = false
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("scheduler stopped")
}

func (t *Ticker) loop(ctx context.Context, job Job) {
	defer t.wg.Done()

	log := t.logger.With(zap.String("job", job.Name))

	if job.RunAtStart {
		t.runOnce(ctx, job, log)
	}

	tick := time.NewTicker(job.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.runOnce(ctx, job, log)
		}
	}
}

func (t *Ticker) runOnce(ctx context.Context, job Job, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", zap.Any("panic", r))
		}
	}()

	if err := job.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("job failed", zap.Error(err), zap.Duration("took", time.Since(started)))
		return
	}

	log.Debug("job finished", zap.Duration("took", time.Since(started)))
}
