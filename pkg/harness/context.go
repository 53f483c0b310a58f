package harness

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kidandcat/bankcheck/pkg/browser"
)

// T is the execution context of one case. It owns the case's page, collects
// soft failures and runs cleanups. It implements require.TestingT, so
// assert.* calls record a failure and keep going while require.* calls stop
// the case.
//
// T is not safe to hand to other goroutines that may call FailNow; FailNow
// must run on the goroutine executing the case.
type T struct {
	ctx    context.Context
	id     CaseID
	page   browser.Page
	logger zerolog.Logger

	mu       sync.Mutex
	errors   []error
	failed   bool
	infra    bool
	steps    int
	cleanups []func()
	values   map[interface{}]interface{}
	released bool
}

func newT(ctx context.Context, id CaseID, logger zerolog.Logger) *T {
	return &T{
		ctx:    ctx,
		id:     id,
		logger: logger,
		values: make(map[interface{}]interface{}),
	}
}

// NewT creates a standalone context around page, for driving assertions
// outside a Runner.
func NewT(ctx context.Context, name string, page browser.Page, logger zerolog.Logger) *T {
	t := newT(ctx, CaseID{Case: name}, logger)
	t.page = page
	return t
}

func (t *T) ID() CaseID {
	return t.id
}

func (t *T) Name() string {
	return t.id.Case
}

func (t *T) Context() context.Context {
	return t.ctx
}

func (t *T) Page() browser.Page {
	return t.page
}

func (t *T) Logger() *zerolog.Logger {
	return &t.logger
}

func (t *T) Helper() {}

// Errorf records a failure and lets the case continue.
func (t *T) Errorf(format string, args ...interface{}) {
	t.Fail(fmt.Errorf(format, args...))
}

// Fail records err as a failure and lets the case continue.
func (t *T) Fail(err error) {
	t.mu.Lock()
	t.failed = true
	t.errors = append(t.errors, err)
	t.mu.Unlock()
	t.logger.Debug().Err(err).Msg("failure recorded")
}

// FailNow stops the case; steps after the current one do not run.
func (t *T) FailNow() {
	panic(t)
}

func (t *T) Fatal(err error) {
	t.Fail(err)
	t.FailNow()
}

func (t *T) Fatalf(format string, args ...interface{}) {
	t.Fatal(fmt.Errorf(format, args...))
}

// Must stops the case with err when it is not nil.
func (t *T) Must(err error) {
	if err != nil {
		t.Fatal(err)
	}
}

// Infra stops the case with an infrastructure failure.
func (t *T) Infra(phase string, err error) {
	t.recordInfra(phase, err)
	t.FailNow()
}

func (t *T) recordInfra(phase string, err error) {
	var ie *InfraError
	if !errors.As(err, &ie) {
		err = &InfraError{Phase: phase, Err: err}
	}
	t.mu.Lock()
	t.infra = true
	t.errors = append(t.errors, err)
	t.mu.Unlock()
}

// recordTeardown records a failure in teardown. It only turns the outcome
// into an infrastructure failure when nothing else had failed.
func (t *T) recordTeardown(phase string, err error) {
	t.mu.Lock()
	failed := t.failed
	t.mu.Unlock()
	if failed {
		t.Fail(&InfraError{Phase: phase, Err: err})
		return
	}
	t.recordInfra(phase, err)
}

func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed || t.infra
}

func (t *T) isInfra() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.infra
}

func (t *T) Errors() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]error(nil), t.errors...)
}

func (t *T) Logf(format string, args ...interface{}) {
	t.logger.Info().Msgf(format, args...)
}

// Cleanup registers fn to run when the case ends, whatever its outcome.
// Cleanups run last registered first, before the page is closed.
func (t *T) Cleanup(fn func()) {
	t.mu.Lock()
	t.cleanups = append(t.cleanups, fn)
	t.mu.Unlock()
}

// Set stores a case-scoped value, typically from a setup hook.
func (t *T) Set(key, value interface{}) {
	t.mu.Lock()
	t.values[key] = value
	t.mu.Unlock()
}

func (t *T) Value(key interface{}) interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.values[key]
}

// protect runs fn and reports whether it returned normally. A FailNow from
// fn is absorbed; any other panic is passed to record.
func (t *T) protect(fn func(), record func(error)) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			if r == t {
				return
			}
			record(&PanicError{Value: r, Stack: string(debug.Stack())})
		}
	}()
	fn()
	return true
}

// release runs cleanups and closes the page. It does its work once.
func (t *T) release() {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return
	}
	t.released = true
	cleanups := t.cleanups
	t.cleanups = nil
	t.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		t.protect(cleanups[i], func(err error) { t.recordTeardown("cleanup", err) })
	}
	if t.page != nil {
		if err := t.page.Close(); err != nil {
			t.recordTeardown("close page", err)
		}
	}
}
