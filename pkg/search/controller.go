// Package search drives model-space search jobs from creation to a terminal
// state.
//
// A Controller enumerates the specifications for a request, registers the
// job, and runs it in the background with a fixed number of executor
// sessions. Pause, stop and progress requests go through the job registry
// and are safe to call from any goroutine.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/3leaps/lagsearch/pkg/executor"
	"github.com/3leaps/lagsearch/pkg/jobregistry"
	"github.com/3leaps/lagsearch/pkg/modelspace"
	"github.com/3leaps/lagsearch/pkg/series"
)

// Defaults for Options.
const (
	DefaultPausePollInterval = 2 * time.Second
	DefaultStopGrace         = 1500 * time.Millisecond
)

// Options tune how jobs are run.
type Options struct {
	// Workers is the number of executor sessions per job.
	Workers int

	// PausePollInterval bounds how long a paused worker sleeps before it
	// re-checks the job state.
	PausePollInterval time.Duration

	// StopGrace is how long a session may take to exit before it is killed.
	StopGrace time.Duration

	// SpecTimeout limits a single fit. Zero disables the limit.
	SpecTimeout time.Duration

	// MaxModels rejects requests with more specifications. Zero disables
	// the limit.
	MaxModels int64

	// RateLimit caps fits per second for each job. Zero disables the limit.
	RateLimit float64

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.PausePollInterval <= 0 {
		o.PausePollInterval = DefaultPausePollInterval
	}
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Controller starts and manages search jobs.
type Controller struct {
	store  *jobregistry.Store
	exec   executor.Executor
	opts   Options
	logger *zap.Logger

	wg sync.WaitGroup
}

// New creates a Controller backed by store and exec.
func New(store *jobregistry.Store, exec executor.Executor, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		store:  store,
		exec:   exec,
		opts:   opts,
		logger: opts.Logger,
	}
}

// Store returns the registry the controller writes to.
func (c *Controller) Store() *jobregistry.Store {
	return c.store
}

// Start validates the request, registers a job and begins running it. It
// returns as soon as the job is registered.
func (c *Controller) Start(req Request) (*jobregistry.Job, error) {
	plan, err := c.Plan(req)
	if err != nil {
		return nil, err
	}

	specs := modelspace.Enumerate(plan.Regressors, plan.MaxLagDepth, plan.ConstantPolicy)
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, modelspace.ErrNoModels)
	}

	ds := series.Dataset{
		Dependent:  req.Dependent,
		Regressors: req.Regressors.Subset(plan.Regressors),
	}
	job, err := c.store.Create(jobregistry.CreateParams{
		Specifications: specs,
		Dataset:        ds,
		Config:         req.Config,
	})
	if err != nil {
		return nil, err
	}
	if err := job.Attach(); err != nil {
		return nil, err
	}

	c.logger.Info("search job created",
		zap.String("job_id", job.ID()),
		zap.Int("total_models", len(specs)),
		zap.Int("regressors", len(plan.Regressors)),
		zap.Int("max_lag_depth", plan.MaxLagDepth),
		zap.String("constant_policy", string(plan.ConstantPolicy)),
	)

	c.wg.Add(1)
	go c.run(job)
	return job, nil
}

// Pause suspends or resumes a job.
func (c *Controller) Pause(jobID string, pause bool) (jobregistry.JobState, error) {
	job, err := c.store.Get(jobID)
	if err != nil {
		return "", err
	}
	st, err := job.Pause(pause)
	if err == nil {
		c.logger.Info("search job pause", zap.String("job_id", jobID), zap.Bool("pause", pause), zap.String("status", string(st)))
	}
	return st, err
}

// Stop terminates a job. Stopping a finished job is a no-op.
func (c *Controller) Stop(jobID string) (jobregistry.JobState, error) {
	job, err := c.store.Get(jobID)
	if err != nil {
		return "", err
	}
	st := job.Stop()
	c.logger.Info("search job stop", zap.String("job_id", jobID), zap.String("status", string(st)))
	return st, nil
}

// Progress returns a snapshot of a job.
func (c *Controller) Progress(jobID string, includeResults bool) (jobregistry.Snapshot, error) {
	return c.store.Snapshot(jobID, includeResults)
}

// List returns job summaries, newest first.
func (c *Controller) List() []jobregistry.Summary {
	return c.store.List()
}

// Wait blocks until every job goroutine has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Shutdown stops every live job and waits for their goroutines, or for ctx.
func (c *Controller) Shutdown(ctx context.Context) error {
	if n := c.store.StopAll(); n > 0 {
		c.logger.Info("stopped live search jobs", zap.Int("count", n))
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) run(job *jobregistry.Job) {
	defer c.wg.Done()

	logger := c.logger.With(zap.String("job_id", job.ID()))
	ctx := job.Context()

	if _, err := job.Transition(jobregistry.JobStateRunning); err != nil {
		logger.Info("search job ended before it started", zap.Error(err))
		return
	}
	started := time.Now()

	var limiter *rate.Limiter
	if c.opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.opts.RateLimit), 1)
	}

	specs := job.Specifications()
	workers := c.opts.Workers
	if workers > len(specs) {
		workers = len(specs)
	}

	feed := make(chan modelspace.Specification)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers + 1)
	g.Go(func() error {
		defer close(feed)
		for _, spec := range specs {
			select {
			case feed <- spec:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for i := 0; i < workers; i++ {
		w := &worker{
			c:       c,
			job:     job,
			feed:    feed,
			limiter: limiter,
			logger:  logger.With(zap.Int("worker", i)),
		}
		g.Go(func() error { return w.run(gctx) })
	}

	err := g.Wait()
	progress, total := job.Progress()
	fields := []zap.Field{
		zap.Int("progress", progress),
		zap.Int("total_models", total),
		zap.Duration("duration", time.Since(started)),
	}

	switch {
	case err != nil:
		if job.Fail(err) {
			logger.Error("search job failed", append(fields, zap.Error(err))...)
		}
	case ctx.Err() != nil:
		logger.Info("search job stopped", append(fields, zap.String("status", string(job.Status())))...)
	default:
		if ferr := job.Finish(); ferr != nil {
			if job.Fail(ferr) {
				logger.Error("search job failed", append(fields, zap.Error(ferr))...)
			}
			return
		}
		logger.Info("search job finished", fields...)
	}
}

// worker owns one executor session for the lifetime of a job.
type worker struct {
	c       *Controller
	job     *jobregistry.Job
	feed    <-chan modelspace.Specification
	limiter *rate.Limiter
	logger  *zap.Logger

	sess executor.Session
}

func (w *worker) run(ctx context.Context) error {
	if err := w.start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer w.close()

	for {
		if err := w.waitWhilePaused(ctx); err != nil {
			return nil
		}

		var spec modelspace.Specification
		select {
		case s, ok := <-w.feed:
			if !ok {
				return nil
			}
			spec = s
		case <-ctx.Done():
			return nil
		}

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		if err := w.fit(ctx, spec); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (w *worker) start(ctx context.Context) error {
	sess, err := w.c.exec.Start(ctx, w.job.Dataset(), w.job.Config())
	if err != nil {
		return err
	}
	w.sess = sess
	return nil
}

func (w *worker) close() {
	if w.sess == nil {
		return
	}
	if err := w.sess.Close(w.c.opts.StopGrace); err != nil {
		w.logger.Warn("closing executor session", zap.Error(err))
	}
	w.sess = nil
}

// fit runs one specification and records its result. A fit that exceeds
// the per-spec timeout is recorded as an error and the session is replaced.
func (w *worker) fit(ctx context.Context, spec modelspace.Specification) error {
	fctx, cancel := ctx, context.CancelFunc(func() {})
	if w.c.opts.SpecTimeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, w.c.opts.SpecTimeout)
	}
	res, err := w.sess.Fit(fctx, spec)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.c.opts.SpecTimeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			w.logger.Warn("fit timed out", zap.String("model_id", spec.ID), zap.Duration("timeout", w.c.opts.SpecTimeout))
			w.job.Record(spec.ID, jobregistry.ModelResult{
				Status: jobregistry.ResultError,
				Error:  fmt.Sprintf("fit timed out after %s", w.c.opts.SpecTimeout),
			})
			w.close()
			return w.start(ctx)
		}
		return err
	}

	if !w.job.Record(spec.ID, res) {
		w.logger.Debug("result discarded", zap.String("model_id", spec.ID))
		return nil
	}
	if res.Status == jobregistry.ResultError {
		w.logger.Debug("fit failed", zap.String("model_id", spec.ID), zap.String("error", res.Error))
	}
	return nil
}

// waitWhilePaused blocks while the job is paused. It returns ctx.Err() once
// the job is cancelled.
func (w *worker) waitWhilePaused(ctx context.Context) error {
	for {
		changed := w.job.Changed()
		if w.job.Status() != jobregistry.JobStatePaused {
			return ctx.Err()
		}
		timer := time.NewTimer(w.c.opts.PausePollInterval)
		select {
		case <-changed:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
}
