package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrUnknownJob is returned when a job name is not registered.
	ErrUnknownJob = errors.New("unknown job")
	// ErrDuplicateJob is returned when registering a name twice.
	ErrDuplicateJob = errors.New("job already registered")
	// ErrJobRunning is returned by RunNow while the job is already running.
	ErrJobRunning = errors.New("job already running")
)

// Task is the body of a background job. The returned detail is kept in the
// job's last RunReport.
type Task func(ctx context.Context) (any, error)

// Job is a named task on a cron schedule.
type Job struct {
	// Name doubles as the job_type metric label.
	Name string
	// Schedule is a cron spec with a seconds field, or a descriptor such as
	// "@every 5m".
	Schedule string
	// Timeout bounds one run. Zero means no bound.
	Timeout time.Duration
	Task    Task
}

// RunReport describes the most recent run of a job.
type RunReport struct {
	Job        string        `json:"job"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Detail     any           `json:"detail,omitempty"`
}

// RunnerConfig configures the Runner.
type RunnerConfig struct {
	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

type entry struct {
	job     Job
	id      cron.EntryID
	running bool
	last    *RunReport
}

// Runner runs registered jobs on their schedules. A job never overlaps
// with itself; a tick that arrives while the previous run is still going is
// skipped.
type Runner struct {
	config RunnerConfig
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRunner creates a Runner. Jobs are added with Add and start firing
// after Start.
func NewRunner(config RunnerConfig) *Runner {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := cronLogger{config.Logger}
	return &Runner{
		config:  config,
		cron:    cron.New(cron.WithSeconds(), cron.WithLogger(logger), cron.WithChain(cron.Recover(logger))),
		entries: make(map[string]*entry),
		ctx:     context.Background(),
	}
}

// Add registers a job.
func (r *Runner) Add(job Job) error {
	if job.Name == "" || job.Task == nil {
		return fmt.Errorf("job needs a name and a task")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	e := &entry{job: job}
	id, err := r.cron.AddFunc(job.Schedule, func() {
		if _, err := r.run(r.jobContext(), e); err != nil && !errors.Is(err, ErrJobRunning) {
			r.config.Logger.Warn("scheduled job failed", "job", job.Name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", job.Schedule, job.Name, err)
	}
	e.id = id
	r.entries[job.Name] = e
	return nil
}

// Start begins firing jobs. Runs are cancelled when ctx is done or Stop is
// called.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()
	r.cron.Start()
	r.config.Logger.Info("job runner started", "jobs", len(r.entries))
}

// Stop halts scheduling, cancels in-flight runs and waits for them to
// return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	<-r.cron.Stop().Done()
	r.config.Logger.Info("job runner stopped")
}

// RunNow runs a job immediately, outside its schedule.
func (r *Runner) RunNow(ctx context.Context, name string) (*RunReport, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return r.run(ctx, e)
}

// Last returns the report of the job's most recent completed run.
func (r *Runner) Last(name string) (*RunReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok || e.last == nil {
		return nil, false
	}
	out := *e.last
	return &out, true
}

// Reports returns the last report of every job that has run, by name.
func (r *Runner) Reports() []RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunReport, 0, len(r.entries))
	for _, e := range r.entries {
		if e.last != nil {
			out = append(out, *e.last)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// Next returns when each job fires next. Empty before Start.
func (r *Runner) Next() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Time, len(r.entries))
	for name, e := range r.entries {
		if next := r.cron.Entry(e.id).Next; !next.IsZero() {
			out[name] = next
		}
	}
	return out
}

func (r *Runner) jobContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}

func (r *Runner) run(ctx context.Context, e *entry) (*RunReport, error) {
	name := e.job.Name
	r.mu.Lock()
	if e.running {
		r.mu.Unlock()
		if r.config.Metrics != nil {
			r.config.Metrics.IncJobsTotal(name, StatusSkipped)
		}
		r.config.Logger.Debug("job still running, skipping", "job", name)
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	e.running = true
	r.mu.Unlock()

	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.job.Timeout)
		defer cancel()
	}

	if m := r.config.Metrics; m != nil {
		defer m.trackInFlight(name)()
	}

	report := &RunReport{Job: name, StartedAt: r.config.Now()}
	detail, err := e.job.Task(ctx)
	report.FinishedAt = r.config.Now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	report.Detail = detail
	report.Status = StatusSuccess
	if err != nil {
		report.Status = StatusFailure
		report.Error = err.Error()
	}

	if m := r.config.Metrics; m != nil {
		m.IncJobsTotal(name, report.Status)
		m.ObserveJobDuration(name, report.Duration.Seconds())
		if err != nil {
			m.IncJobErrors(name, errorType(err))
		} else {
			m.SetLastSuccess(name, report.FinishedAt)
		}
	}

	r.mu.Lock()
	e.running = false
	e.last = report
	r.mu.Unlock()

	out := *report
	return &out, err
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "task_error"
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
