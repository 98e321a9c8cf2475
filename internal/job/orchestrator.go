package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"odin-backtester/internal/engine"
	"odin-backtester/internal/infrastructure"
	"odin-backtester/internal/model"
	"odin-backtester/internal/strategy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultHistoryLimit = 20

// Repository persists job snapshots. Implementations must treat Save as an
// upsert keyed by job id.
type Repository interface {
	Save(ctx context.Context, job model.BacktestJob) error
	Get(ctx context.Context, id string) (model.BacktestJob, error)
	Delete(ctx context.Context, id string) error
}

// EventPublisher receives every lifecycle transition.
type EventPublisher interface {
	PublishJob(job model.BacktestJob)
}

type Config struct {
	Workers       int
	QueueSize     int
	Timeout       time.Duration
	DefaultSymbol string
	Costs         engine.Costs
	Strategy      strategy.Options
}

func DefaultConfig() Config {
	return Config{
		Workers:       10,
		QueueSize:     100,
		Timeout:       time.Hour,
		DefaultSymbol: "BTCUSDT",
		Strategy:      strategy.DefaultOptions,
	}
}

// entry is one registry slot. The snapshot behind job is never mutated;
// every transition swaps in a new one.
type entry struct {
	job    atomic.Pointer[model.BacktestJob]
	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
}

type Orchestrator struct {
	cfg    Config
	source engine.BarSource
	repo   Repository
	events EventPublisher
	pool   *engine.WorkerPool
	logger *zap.Logger

	jobs       sync.Map // id -> *entry
	base       context.Context
	cancelBase context.CancelFunc
	now        func() time.Time
}

// NewOrchestrator wires the job pipeline. repo and events may be nil.
func NewOrchestrator(cfg Config, source engine.BarSource, repo Repository, events EventPublisher, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.DefaultSymbol == "" {
		cfg.DefaultSymbol = DefaultConfig().DefaultSymbol
	}
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		source:     source,
		repo:       repo,
		events:     events,
		pool:       engine.NewWorkerPool(cfg.Workers, cfg.QueueSize, logger),
		logger:     logger,
		base:       base,
		cancelBase: cancel,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) Start(ctx context.Context) {
	o.pool.Start(ctx)
}

// Stop cancels every in-flight run and waits for the workers to exit.
func (o *Orchestrator) Stop() {
	o.cancelBase()
	o.pool.Stop()
}

func (o *Orchestrator) Strategies() []model.StrategyInfo {
	return strategy.Catalog(o.cfg.Strategy)
}

// Submit validates the request and queues it. The returned snapshot is
// PENDING; a full queue fails synchronously with a concurrency limit error.
func (o *Orchestrator) Submit(ctx context.Context, req model.BacktestRequest) (model.BacktestJob, error) {
	strat, req, err := o.validate(req)
	if err != nil {
		return model.BacktestJob{}, err
	}

	job := model.BacktestJob{
		ID:             uuid.NewString(),
		StrategyID:     strat.ID(),
		StrategyName:   strat.Name(),
		Symbol:         req.Symbol,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Timeframe:      req.Timeframe,
		InitialCapital: req.InitialCapital,
		Status:         model.StatusPending,
		CreatedAt:      o.now(),
	}

	jctx, cancel := context.WithCancel(o.base)
	e := &entry{ctx: jctx, cancel: cancel, ready: make(chan struct{})}
	e.job.Store(&job)
	o.jobs.Store(job.ID, e)

	if err := o.pool.Submit(func(context.Context) { o.execute(e, strat) }); err != nil {
		o.jobs.Delete(job.ID)
		cancel()
		infrastructure.JobsTotal.WithLabelValues("REJECTED").Inc()
		if errors.Is(err, engine.ErrPoolStopped) {
			return model.BacktestJob{}, model.NewConcurrencyLimitError("job pipeline is shutting down")
		}
		return model.BacktestJob{}, model.NewConcurrencyLimitError(
			fmt.Sprintf("job queue is full (%d pending)", o.pool.Pending()))
	}

	o.record(ctx, job)
	close(e.ready)
	o.logger.Info("backtest job submitted",
		zap.String("job_id", job.ID),
		zap.String("strategy", job.StrategyID),
		zap.String("symbol", job.Symbol),
		zap.String("timeframe", job.Timeframe))
	return job, nil
}

func (o *Orchestrator) validate(req model.BacktestRequest) (strategy.Strategy, model.BacktestRequest, error) {
	strat, err := strategy.NewStrategy(req.StrategyID, o.cfg.Strategy)
	if err != nil {
		return nil, req, err
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return nil, req, model.NewValidationError("start_date and end_date are required")
	}
	if !req.StartDate.Before(req.EndDate) {
		return nil, req, model.NewValidationError("start_date must be before end_date")
	}
	if !req.InitialCapital.IsPositive() {
		return nil, req, model.NewValidationError("initial_capital must be positive")
	}
	if req.Timeframe == "" {
		req.Timeframe = "1h"
	}
	if _, err := model.ParseTimeframe(req.Timeframe); err != nil {
		return nil, req, err
	}
	if req.Symbol == "" {
		req.Symbol = o.cfg.DefaultSymbol
	}
	req.Symbol = model.NormalizeSymbol(req.Symbol)
	if req.Symbol == "" {
		return nil, req, model.NewValidationError("symbol is empty")
	}
	req.StartDate = req.StartDate.UTC()
	req.EndDate = req.EndDate.UTC()
	return strat, req, nil
}

// Get returns the current snapshot, falling back to the repository for jobs
// from earlier processes.
func (o *Orchestrator) Get(ctx context.Context, id string) (model.BacktestJob, error) {
	if e, ok := o.entry(id); ok {
		return *e.job.Load(), nil
	}
	if o.repo == nil {
		return model.BacktestJob{}, model.ErrJobNotFound
	}
	return o.repo.Get(ctx, id)
}

// Lister is implemented by repositories that can page through history.
type Lister interface {
	List(ctx context.Context, limit int) ([]model.BacktestJob, error)
}

// List returns up to limit jobs, newest first, without their trade logs.
// Jobs of earlier processes come from the repository when it can list.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]model.BacktestJob, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	seen := make(map[string]bool)
	var out []model.BacktestJob
	o.jobs.Range(func(_, v any) bool {
		job := *v.(*entry).job.Load()
		job.Trades = nil
		seen[job.ID] = true
		out = append(out, job)
		return true
	})
	if lister, ok := o.repo.(Lister); ok {
		stored, err := lister.List(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("list job history: %w", err)
		}
		for _, job := range stored {
			if !seen[job.ID] {
				out = append(out, job)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Cancel fails a PENDING or RUNNING job. A running backtest stops at its
// next bar boundary. Terminal jobs are returned unchanged.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (model.BacktestJob, error) {
	e, ok := o.entry(id)
	if !ok {
		return model.BacktestJob{}, model.ErrJobNotFound
	}
	job, changed := o.transition(ctx, e, func(j *model.BacktestJob) {
		o.failed(j, model.NewCancelledError("backtest cancelled", nil))
	}, model.StatusPending, model.StatusRunning)
	if changed {
		e.cancel()
		o.logger.Info("backtest job cancelled", zap.String("job_id", id))
	}
	return job, nil
}

// Delete removes a job that is not running.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	e, ok := o.entry(id)
	if !ok {
		if o.repo == nil {
			return model.ErrJobNotFound
		}
		return o.repo.Delete(ctx, id)
	}
	for {
		cur := e.job.Load()
		if cur.Status == model.StatusRunning {
			return model.ErrJobRunning
		}
		if cur.Status != model.StatusPending {
			break
		}
		// keep a queued job from starting once it is gone
		next := *cur
		o.failed(&next, model.NewCancelledError("backtest deleted", nil))
		if e.job.CompareAndSwap(cur, &next) {
			break
		}
	}
	e.cancel()
	o.jobs.Delete(id)
	if o.repo != nil {
		if err := o.repo.Delete(ctx, id); err != nil && !errors.Is(err, model.ErrJobNotFound) {
			return fmt.Errorf("delete job %s: %w", id, err)
		}
	}
	o.logger.Info("backtest job deleted", zap.String("job_id", id))
	return nil
}

func (o *Orchestrator) entry(id string) (*entry, bool) {
	v, ok := o.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

func (o *Orchestrator) execute(e *entry, strat strategy.Strategy) {
	<-e.ready
	job, ok := o.transition(e.ctx, e, func(j *model.BacktestJob) {
		t := o.now()
		j.Status = model.StatusRunning
		j.StartedAt = &t
	}, model.StatusPending)
	if !ok {
		return
	}

	infrastructure.JobsRunning.Inc()
	defer infrastructure.JobsRunning.Dec()
	started := time.Now()

	ctx, cancel := context.WithTimeout(e.ctx, o.cfg.Timeout)
	defer cancel()
	report, err := o.run(ctx, job, strat)
	infrastructure.JobDuration.WithLabelValues(job.StrategyID).Observe(time.Since(started).Seconds())

	logger := o.logger.With(zap.String("job_id", job.ID), zap.String("strategy", job.StrategyID))
	if err != nil {
		if _, ok := o.transition(context.Background(), e, func(j *model.BacktestJob) { o.failed(j, err) }, model.StatusRunning); ok {
			logger.Warn("backtest job failed", zap.String("kind", string(model.KindOf(err))), zap.Error(err))
		}
		return
	}
	summary := report.Summary
	if _, ok := o.transition(context.Background(), e, func(j *model.BacktestJob) {
		t := o.now()
		j.Status = model.StatusCompleted
		j.FinishedAt = &t
		j.Result = &summary
		j.Trades = report.Trades
	}, model.StatusRunning); ok {
		logger.Info("backtest job completed",
			zap.Int("trades", summary.TotalTrades),
			zap.Float64("total_return_pct", summary.TotalReturnPct),
			zap.Duration("elapsed", time.Since(started)))
	}
}

func (o *Orchestrator) run(ctx context.Context, job model.BacktestJob, strat strategy.Strategy) (report *engine.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("backtest panicked", zap.String("job_id", job.ID), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			report, err = nil, fmt.Errorf("backtest panicked: %v", r)
		}
	}()

	series, err := engine.LoadSeries(ctx, o.source, job.Symbol, job.Timeframe, job.StartDate, job.EndDate)
	if err != nil {
		return nil, classify(ctx, o.cfg.Timeout, err)
	}
	capital, _ := job.InitialCapital.Float64()
	bt := engine.NewBacktester(strat, capital, o.cfg.Costs, o.logger.With(zap.String("job_id", job.ID)))
	report, err = bt.Run(ctx, series)
	if err != nil {
		return nil, classify(ctx, o.cfg.Timeout, err)
	}
	return report, nil
}

// classify turns a context failure into its timeout or cancellation kind.
func classify(ctx context.Context, timeout time.Duration, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return model.NewTimeoutError(fmt.Sprintf("backtest exceeded %s", timeout), err)
	case errors.Is(ctx.Err(), context.Canceled):
		return model.NewCancelledError("backtest cancelled", err)
	}
	return err
}

func (o *Orchestrator) failed(j *model.BacktestJob, err error) {
	t := o.now()
	j.Status = model.StatusFailed
	j.Error = err.Error()
	j.ErrorKind = model.KindOf(err)
	j.FinishedAt = &t
	j.Result = nil
	j.Trades = nil
}

// transition applies mutate if the current status is one of from. It
// retries on a lost compare-and-swap and reports whether it won.
func (o *Orchestrator) transition(ctx context.Context, e *entry, mutate func(*model.BacktestJob), from ...model.JobStatus) (model.BacktestJob, bool) {
	for {
		cur := e.job.Load()
		if !oneOf(cur.Status, from) {
			return *cur, false
		}
		next := *cur
		mutate(&next)
		if e.job.CompareAndSwap(cur, &next) {
			o.record(ctx, next)
			return next, true
		}
	}
}

func oneOf(s model.JobStatus, set []model.JobStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// record persists and publishes a snapshot. Failures are logged; the
// in-memory registry stays authoritative.
func (o *Orchestrator) record(ctx context.Context, job model.BacktestJob) {
	infrastructure.JobsTotal.WithLabelValues(string(job.Status)).Inc()
	if o.repo != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := o.repo.Save(sctx, job); err != nil {
			o.logger.Error("failed to persist job", zap.String("job_id", job.ID), zap.Error(err))
		}
		cancel()
	}
	if o.events != nil {
		o.events.PublishJob(job)
	}
}
