// Package expect asserts on page state. Assertions built with Hard stop the
// case on failure; assertions built with Soft record the failure and let the
// case continue, and the case fails when it finishes.
//
// Locator assertions retry until they hold or the timeout elapses.
package expect

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/kidandcat/bankcheck/pkg/browser"
	"github.com/kidandcat/bankcheck/pkg/harness"
)

const (
	DefaultTimeout = 5 * time.Second
	pollInterval   = 100 * time.Millisecond
)

var ErrNoData = errors.New("no data found")

// EmptyPolicy decides what EachIn does with an empty set of observed values.
type EmptyPolicy int

const (
	// RejectEmpty fails with ErrNoData.
	RejectEmpty EmptyPolicy = iota
	// AllowEmpty treats no values as trivially valid.
	AllowEmpty
)

type Assertions struct {
	t       *harness.T
	soft    bool
	timeout time.Duration
	empty   EmptyPolicy
}

type timeoutKey struct{}

// Configure is a setup hook that sets the default timeout of every assertion
// created for the case.
func Configure(timeout time.Duration) harness.Hook {
	return func(t *harness.T) error {
		t.Set(timeoutKey{}, timeout)
		return nil
	}
}

func newAssertions(t *harness.T, soft bool) *Assertions {
	timeout := DefaultTimeout
	if d, ok := t.Value(timeoutKey{}).(time.Duration); ok && d > 0 {
		timeout = d
	}
	return &Assertions{t: t, soft: soft, timeout: timeout}
}

func Hard(t *harness.T) *Assertions {
	return newAssertions(t, false)
}

func Soft(t *harness.T) *Assertions {
	return newAssertions(t, true)
}

func (a *Assertions) WithTimeout(d time.Duration) *Assertions {
	c := *a
	c.timeout = d
	return &c
}

func (a *Assertions) WithEmptyPolicy(p EmptyPolicy) *Assertions {
	c := *a
	c.empty = p
	return &c
}

func (a *Assertions) fail(err *harness.AssertionError) bool {
	err.Soft = a.soft
	a.t.Fail(err)
	if !a.soft {
		a.t.FailNow()
	}
	return false
}

// poll queries selector until check accepts the elements or the timeout
// elapses, and returns the last description of what was seen.
func (a *Assertions) poll(selector string, check func([]browser.Element) (bool, string)) (bool, string, error) {
	ctx := a.t.Context()
	deadline := time.Now().Add(a.timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		els, err := a.t.Page().Query(ctx, selector)
		if err != nil {
			return false, "", err
		}
		ok, actual := check(els)
		if ok || !time.Now().Before(deadline) {
			return ok, actual, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false, actual, nil
		}
	}
}

func (a *Assertions) queryFailed(message, selector string, err error) bool {
	return a.fail(&harness.AssertionError{
		Message:  message,
		Locator:  selector,
		Expected: "a resolvable locator",
		Actual:   err.Error(),
		Err:      err,
	})
}

func describeCount(n int) string {
	if n == 1 {
		return "1 element"
	}
	return fmt.Sprintf("%d elements", n)
}

// Visible expects exactly one attached, visible element.
func (a *Assertions) Visible(selector string) bool {
	ok, actual, err := a.poll(selector, func(els []browser.Element) (bool, string) {
		switch {
		case len(els) != 1:
			return false, describeCount(len(els))
		case !els[0].Visible:
			return false, "hidden element"
		}
		return true, ""
	})
	if err != nil {
		return a.queryFailed("visibility assertion failed", selector, err)
	}
	if !ok {
		return a.fail(&harness.AssertionError{
			Message:  "visibility assertion failed",
			Locator:  selector,
			Expected: "1 visible element",
			Actual:   actual,
		})
	}
	return true
}

// Count expects exactly n elements.
func (a *Assertions) Count(selector string, n int) bool {
	ok, actual, err := a.poll(selector, func(els []browser.Element) (bool, string) {
		return len(els) == n, describeCount(len(els))
	})
	if err != nil {
		return a.queryFailed("count assertion failed", selector, err)
	}
	if !ok {
		return a.fail(&harness.AssertionError{
			Message:  "count assertion failed",
			Locator:  selector,
			Expected: describeCount(n),
			Actual:   actual,
		})
	}
	return true
}

// normalize collapses whitespace runs, as rendered text comparison does.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func single(els []browser.Element) (string, string, bool) {
	if len(els) != 1 {
		return "", describeCount(len(els)), false
	}
	text := normalize(els[0].Text)
	return text, fmt.Sprintf("%q", text), true
}

// Text expects a single element whose text equals want.
func (a *Assertions) Text(selector, want string) bool {
	want = normalize(want)
	ok, actual, err := a.poll(selector, func(els []browser.Element) (bool, string) {
		text, actual, found := single(els)
		return found && text == want, actual
	})
	if err != nil {
		return a.queryFailed("text assertion failed", selector, err)
	}
	if !ok {
		return a.fail(&harness.AssertionError{
			Message:  "text assertion failed",
			Locator:  selector,
			Expected: fmt.Sprintf("%q", want),
			Actual:   actual,
		})
	}
	return true
}

// Texts expects the matched elements' texts to equal want position by
// position; the number of elements must match too.
func (a *Assertions) Texts(selector string, texts ...string) bool {
	want := make([]string, len(texts))
	for i, text := range texts {
		want[i] = normalize(text)
	}
	var got []string
	ok, _, err := a.poll(selector, func(els []browser.Element) (bool, string) {
		got = make([]string, len(els))
		for i, el := range els {
			got[i] = normalize(el.Text)
		}
		return equalStrings(got, want), ""
	})
	if err != nil {
		return a.queryFailed("text sequence assertion failed", selector, err)
	}
	if !ok {
		return a.fail(&harness.AssertionError{
			Message:  "text sequence assertion failed",
			Locator:  selector,
			Expected: fmt.Sprintf("%q", want),
			Actual:   fmt.Sprintf("%q", got),
			Detail:   diff(want, got),
		})
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func diff(want, got []string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        lines(want),
		B:        lines(got),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  1,
	})
	if err != nil {
		return ""
	}
	return strings.TrimRight(text, "\n")
}

func lines(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s + "\n"
	}
	return out
}

// ContainText expects a single element whose text contains a match for re.
func (a *Assertions) ContainText(selector string, re *regexp.Regexp) bool {
	return a.pattern("text pattern assertion failed", selector, re, func(text string) bool {
		return re.MatchString(text)
	})
}

// MatchText expects a single element whose whole text matches re.
func (a *Assertions) MatchText(selector string, re *regexp.Regexp) bool {
	return a.pattern("text match assertion failed", selector, re, func(text string) bool {
		loc := re.FindStringIndex(text)
		return loc != nil && loc[0] == 0 && loc[1] == len(text)
	})
}

func (a *Assertions) pattern(message, selector string, re *regexp.Regexp, match func(string) bool) bool {
	ok, actual, err := a.poll(selector, func(els []browser.Element) (bool, string) {
		text, actual, found := single(els)
		return found && match(text), actual
	})
	if err != nil {
		return a.queryFailed(message, selector, err)
	}
	if !ok {
		return a.fail(&harness.AssertionError{
			Message:  message,
			Locator:  selector,
			Expected: "/" + re.String() + "/",
			Actual:   actual,
		})
	}
	return true
}

// AllTexts returns the text of every element currently matching selector,
// without waiting.
func (a *Assertions) AllTexts(selector string) []string {
	texts, err := a.texts(selector)
	if err != nil {
		a.queryFailed("reading texts failed", selector, err)
		return nil
	}
	return texts
}

func (a *Assertions) texts(selector string) ([]string, error) {
	els, err := a.t.Page().Query(a.t.Context(), selector)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(els))
	for i, el := range els {
		texts[i] = normalize(el.Text)
	}
	return texts, nil
}

// EachTextIn reads the texts matching selector, without waiting, and expects
// each to be one of allowed. A failed read is the only failure reported.
func (a *Assertions) EachTextIn(selector string, allowed ...string) bool {
	texts, err := a.texts(selector)
	if err != nil {
		return a.queryFailed("reading texts failed", selector, err)
	}
	return a.EachIn(texts, allowed...)
}

// EachIn expects every value to be one of allowed. Each offending value is
// its own failure. What an empty values slice means is set by the
// assertions' EmptyPolicy.
func (a *Assertions) EachIn(values []string, allowed ...string) bool {
	if len(values) == 0 {
		if a.empty == AllowEmpty {
			return true
		}
		return a.fail(&harness.AssertionError{
			Message:  "set membership assertion failed",
			Expected: "at least one value",
			Actual:   "none",
			Err:      ErrNoData,
		})
	}

	set := make(map[string]bool, len(allowed))
	for _, v := range allowed {
		set[v] = true
	}
	ok := true
	for _, v := range values {
		if set[v] {
			continue
		}
		ok = a.fail(&harness.AssertionError{
			Message:  "set membership assertion failed",
			Expected: fmt.Sprintf("one of %q", allowed),
			Actual:   fmt.Sprintf("%q", v),
		})
	}
	return ok
}
