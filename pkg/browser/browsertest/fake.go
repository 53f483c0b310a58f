// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kidandcat/bankcheck/pkg/browser"
)

// Driver hands out Pages that all read from the same element table.
type Driver struct {
	mu         sync.Mutex
	Elements   map[string][]browser.Element
	HTML       string
	Image      []byte
	NewPageErr error
	Console    []browser.ConsoleError
	pages      []*Page
}

func NewDriver() *Driver {
	return &Driver{Elements: make(map[string][]browser.Element)}
}

// Set replaces the elements matched by selector.
func (d *Driver) Set(selector string, elements ...browser.Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Elements[selector] = elements
}

// Visible is shorthand for visible elements with the given texts.
func Visible(texts ...string) []browser.Element {
	els := make([]browser.Element, len(texts))
	for i, text := range texts {
		els[i] = browser.Element{Text: text, Visible: true}
	}
	return els
}

func (d *Driver) NewPage(ctx context.Context) (browser.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.NewPageErr != nil {
		return nil, d.NewPageErr
	}
	p := &Page{driver: d}
	d.pages = append(d.pages, p)
	return p, nil
}

func (d *Driver) Close() error {
	return nil
}

func (d *Driver) Pages() []*Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Page(nil), d.pages...)
}

// Action is one recorded interaction.
type Action struct {
	Name   string
	Target string
	Value  string
}

type Page struct {
	driver *Driver

	mu      sync.Mutex
	actions []Action
	closes  int
	width   int
	height  int
}

func (p *Page) record(name, target, value string) {
	p.mu.Lock()
	p.actions = append(p.actions, Action{Name: name, Target: target, Value: value})
	p.mu.Unlock()
}

func (p *Page) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Action(nil), p.actions...)
}

func (p *Page) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *Page) Viewport() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

func (p *Page) SetViewport(ctx context.Context, width, height int) error {
	p.mu.Lock()
	p.width, p.height = width, height
	p.mu.Unlock()
	p.record("viewport", "", "")
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.record("navigate", url, "")
	return nil
}

func (p *Page) actionable(action, selector string) error {
	p.driver.mu.Lock()
	els := p.driver.Elements[selector]
	p.driver.mu.Unlock()
	for _, el := range els {
		if el.Visible {
			return nil
		}
	}
	return &browser.TimeoutError{Action: action, Locator: selector}
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if err := p.actionable("fill", selector); err != nil {
		return err
	}
	p.record("fill", selector, value)
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.actionable("click", selector); err != nil {
		return err
	}
	p.record("click", selector, "")
	return nil
}

func (p *Page) Query(ctx context.Context, selector string) ([]browser.Element, error) {
	p.driver.mu.Lock()
	defer p.driver.mu.Unlock()
	return append([]browser.Element(nil), p.driver.Elements[selector]...), nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	p.driver.mu.Lock()
	defer p.driver.mu.Unlock()
	return p.driver.HTML, nil
}

func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	p.driver.mu.Lock()
	defer p.driver.mu.Unlock()
	if p.driver.Image == nil {
		return nil, fmt.Errorf("screenshot: %w", browser.ErrUnsupported)
	}
	return p.driver.Image, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var last string
	for _, a := range p.Actions() {
		if a.Name == "navigate" {
			last = a.Target
		}
	}
	return last, nil
}

func (p *Page) ConsoleErrors() []browser.ConsoleError {
	p.driver.mu.Lock()
	defer p.driver.mu.Unlock()
	return append([]browser.ConsoleError(nil), p.driver.Console...)
}

func (p *Page) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}
