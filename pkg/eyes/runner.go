package eyes

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const DefaultPollInterval = 500 * time.Millisecond

// VisualGridRunner owns the render queue shared by the Eyes sessions of one
// case and collects their verdicts.
type VisualGridRunner struct {
	client  *Client
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu   sync.Mutex
	eyes []*Eyes
}

type RunnerOption func(*VisualGridRunner)

// WithPollInterval paces result polling to one request per interval.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *VisualGridRunner) {
		if d > 0 {
			r.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *VisualGridRunner) {
		r.logger = logger
	}
}

// NewVisualGridRunner bounds in-flight uploads to testConcurrency.
func NewVisualGridRunner(client *Client, testConcurrency int, opts ...RunnerOption) *VisualGridRunner {
	if testConcurrency <= 0 {
		testConcurrency = 1
	}
	r := &VisualGridRunner{
		client:  client,
		sem:     semaphore.NewWeighted(int64(testConcurrency)),
		limiter: rate.NewLimiter(rate.Every(DefaultPollInterval), 1),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *VisualGridRunner) register(e *Eyes) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, known := range r.eyes {
		if known == e {
			return
		}
	}
	r.eyes = append(r.eyes, e)
}

// render runs job once a render slot is free. It blocks until the slot is
// acquired or ctx ends.
func (r *VisualGridRunner) render(ctx context.Context, job func(context.Context) error) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)
	return job(ctx)
}

// GetAllTestResults waits for every Eyes session of this runner to finish
// uploading and for every verdict to resolve. It returns one container per
// render target per session. Unless throwEx is set, visual differences are
// reported only through the summary.
func (r *VisualGridRunner) GetAllTestResults(ctx context.Context, throwEx bool) (*TestResultsSummary, error) {
	r.mu.Lock()
	all := append([]*Eyes(nil), r.eyes...)
	r.mu.Unlock()

	summary := &TestResultsSummary{}
	for _, e := range all {
		e.wait()
		for _, s := range e.remoteSessions() {
			summary.Containers = append(summary.Containers, r.collect(ctx, s))
		}
	}

	r.logger.Debug().Str("summary", summary.String()).Msg("visual results collected")
	if !throwEx {
		return summary, nil
	}
	var results []TestResults
	for _, c := range summary.Containers {
		if c.Results != nil {
			results = append(results, *c.Results)
		}
	}
	return summary, newDiffsFound(results, summary.Errors())
}

func (r *VisualGridRunner) collect(ctx context.Context, s sessionState) TestResultsContainer {
	c := TestResultsContainer{Target: s.target, Err: s.err}
	if s.id == "" {
		return c
	}
	res, err := r.await(ctx, s.id)
	if err != nil {
		if c.Err == nil {
			c.Err = err
		}
		return c
	}
	c.Results = &res
	return c
}

// await polls a session until its verdict is resolved.
func (r *VisualGridRunner) await(ctx context.Context, sessionID string) (TestResults, error) {
	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return TestResults{}, err
		}
		res, err := r.client.Results(ctx, sessionID)
		if err != nil {
			return TestResults{}, err
		}
		if res.Resolved() {
			return res, nil
		}
	}
}
