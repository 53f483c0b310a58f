package eyes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kidandcat/bankcheck/pkg/browser"
)

type state int

const (
	stateNew state = iota
	stateOpen
	stateClosed
	stateAborted
)

type sessionState struct {
	target RenderTarget
	id     string
	err    error
}

// Eyes is one visual test: a set of remote sessions, one per render target,
// fed by the checkpoints of a single page.
type Eyes struct {
	runner *VisualGridRunner
	config *Configuration
	logger zerolog.Logger

	mu       sync.Mutex
	state    state
	page     browser.Page
	sessions []*sessionState
	uploads  sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(runner *VisualGridRunner) *Eyes {
	return &Eyes{
		runner: runner,
		config: NewConfiguration(),
		logger: runner.logger.With().Str("component", "eyes").Logger(),
	}
}

func (e *Eyes) SetConfiguration(cfg *Configuration) {
	e.mu.Lock()
	e.config = cfg.clone()
	e.mu.Unlock()
}

func (e *Eyes) Configuration() *Configuration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config.clone()
}

// Open starts one remote session per configured render target. Any failure
// leaves no remote session behind.
func (e *Eyes) Open(ctx context.Context, page browser.Page, appName, testName string) error {
	e.mu.Lock()
	if e.state != stateNew {
		e.mu.Unlock()
		return errors.New("eyes already opened")
	}
	cfg := e.config.clone()
	e.mu.Unlock()

	if appName != "" {
		cfg.AppName = appName
	}
	if testName != "" {
		cfg.TestName = testName
	}
	if cfg.Batch.ID == "" {
		name := cfg.Batch.Name
		if name == "" {
			name = cfg.TestName
		}
		cfg.Batch = NewBatchInfo(name)
	}
	if cfg.MatchLevel == "" {
		cfg.MatchLevel = Strict
	}
	targets := cfg.Targets()
	if len(targets) == 0 {
		return errors.New("no render targets configured")
	}

	sessions := make([]*sessionState, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		sessions[i] = &sessionState{target: target}
		g.Go(func() error {
			info, err := e.runner.client.StartSession(gctx, StartSessionRequest{
				Batch:      cfg.Batch,
				AppName:    cfg.AppName,
				TestName:   cfg.TestName,
				Target:     target,
				MatchLevel: cfg.MatchLevel,
			})
			if err != nil {
				return fmt.Errorf("opening session for %s: %w", target, err)
			}
			sessions[i].id = info.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, s := range sessions {
			if s.id != "" {
				_ = e.runner.client.DeleteSession(context.WithoutCancel(ctx), s.id)
			}
		}
		return err
	}

	uploadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.config = cfg
	e.page = page
	e.sessions = sessions
	e.ctx, e.cancel = uploadCtx, cancel
	e.state = stateOpen
	e.mu.Unlock()

	e.runner.register(e)
	e.logger.Debug().
		Str("app", cfg.AppName).
		Str("test", cfg.TestName).
		Str("batch", cfg.Batch.Name).
		Int("targets", len(targets)).
		Msg("eyes opened")
	return nil
}

// Check captures the page once and queues one upload per render target. It
// returns as soon as the uploads are queued. Region checks skip the
// screenshot.
func (e *Eyes) Check(ctx context.Context, name string, settings CheckSettings) error {
	e.mu.Lock()
	if e.state != stateOpen {
		e.mu.Unlock()
		return ErrNotOpen
	}
	page, uploadCtx := e.page, e.ctx
	sessions := e.sessions
	level := settings.matchLevel
	if level == "" {
		level = e.config.MatchLevel
	}
	e.mu.Unlock()

	dom, err := page.Content(ctx)
	if err != nil {
		return fmt.Errorf("capturing dom for %q: %w", name, err)
	}
	// Region checkpoints are compared by the region's markup only.
	var image []byte
	if settings.region == "" {
		image, err = page.Screenshot(ctx, settings.fully)
		if err != nil && !errors.Is(err, browser.ErrUnsupported) {
			return fmt.Errorf("capturing screenshot for %q: %w", name, err)
		}
	}

	cp := Checkpoint{
		Name:       name,
		MatchLevel: level,
		Fully:      settings.fully,
		Region:     settings.region,
		DOM:        dom,
		Image:      image,
	}
	for _, s := range sessions {
		e.uploads.Add(1)
		go func() {
			defer e.uploads.Done()
			err := e.runner.render(uploadCtx, func(ctx context.Context) error {
				return e.runner.client.UploadCheckpoint(ctx, s.id, cp)
			})
			if err != nil {
				e.fail(s, fmt.Errorf("uploading %q: %w", name, err))
			}
		}()
	}
	e.logger.Debug().Str("checkpoint", name).Str("matchLevel", string(level)).Msg("checkpoint queued")
	return nil
}

func (e *Eyes) fail(s *sessionState, err error) {
	e.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	aborted := e.state == stateAborted
	e.mu.Unlock()
	if !aborted {
		e.logger.Warn().Err(err).Str("target", s.target.String()).Msg("render job failed")
	}
}

// Close waits for this session's uploads and closes every remote session.
// The returned results may still be Running. With throwEx it also waits for
// the verdicts and returns a *DiffsFoundError when any did not pass.
func (e *Eyes) Close(ctx context.Context, throwEx bool) ([]TestResults, error) {
	e.mu.Lock()
	if e.state != stateOpen {
		e.mu.Unlock()
		return nil, ErrNotOpen
	}
	e.state = stateClosed
	e.mu.Unlock()

	e.uploads.Wait()
	e.cancel()

	var results []TestResults
	for _, s := range e.sessions {
		res, err := e.runner.client.CloseSession(ctx, s.id)
		if err != nil {
			e.fail(s, fmt.Errorf("closing session: %w", err))
			continue
		}
		results = append(results, res)
	}
	e.logger.Debug().Int("sessions", len(results)).Msg("eyes closed")

	if !throwEx {
		return results, nil
	}
	var errs []error
	for i := range results {
		res, err := e.runner.await(ctx, results[i].SessionID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results[i] = res
	}
	for _, s := range e.remoteSessions() {
		if s.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.target, s.err))
		}
	}
	return results, newDiffsFound(results, errs)
}

// Abort discards a session that was not closed. It is a no-op when the
// session was never opened or is already closed.
func (e *Eyes) Abort(ctx context.Context) error {
	e.mu.Lock()
	if e.state != stateOpen {
		e.mu.Unlock()
		return nil
	}
	e.state = stateAborted
	e.cancel()
	e.mu.Unlock()

	e.uploads.Wait()

	var errs []error
	for _, s := range e.sessions {
		if err := e.runner.client.DeleteSession(ctx, s.id); err != nil {
			errs = append(errs, fmt.Errorf("aborting session for %s: %w", s.target, err))
		}
	}
	e.logger.Debug().Msg("eyes aborted")
	return errors.Join(errs...)
}

// IsOpen reports whether checkpoints can still be added.
func (e *Eyes) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateOpen
}

func (e *Eyes) wait() {
	e.uploads.Wait()
}

func (e *Eyes) remoteSessions() []sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]sessionState, len(e.sessions))
	for i, s := range e.sessions {
		out[i] = *s
	}
	return out
}
