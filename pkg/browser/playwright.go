package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

type playwrightDriver struct {
	opts    Options
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewPlaywright launches Chromium through the playwright driver. Locators are
// handed to playwright unchanged since its engines understand id= and text=.
func NewPlaywright(opts Options) (Driver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &playwrightDriver{opts: opts, pw: pw, browser: b}, nil
}

func (d *playwrightDriver) NewPage(ctx context.Context) (Page, error) {
	bctx, err := d.browser.NewContext()
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	p := &playwrightPage{opts: d.opts, bctx: bctx, page: page}
	page.OnConsole(func(msg playwright.ConsoleMessage) {
		if msg.Type() != "error" {
			return
		}
		p.mu.Lock()
		p.console = append(p.console, ConsoleError{
			Message:   msg.Text(),
			Type:      msg.Type(),
			Timestamp: time.Now(),
			URL:       page.URL(),
		})
		p.mu.Unlock()
	})
	return p, nil
}

func (d *playwrightDriver) Close() error {
	if err := d.browser.Close(); err != nil {
		return err
	}
	return d.pw.Stop()
}

type playwrightPage struct {
	opts Options
	bctx playwright.BrowserContext
	page playwright.Page

	mu      sync.Mutex
	console []ConsoleError
	closed  bool
}

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

// wrap maps playwright's timeout error onto TimeoutError.
func (p *playwrightPage) wrap(action, selector string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return &TimeoutError{Action: action, Locator: selector, Bound: p.opts.timeoutFor(action)}
	}
	return classify(action, selector, p.opts.timeoutFor(action), err)
}

func (p *playwrightPage) SetViewport(ctx context.Context, width, height int) error {
	return p.wrap("viewport", "", p.page.SetViewportSize(width, height))
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) error {
	resp, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   ms(p.opts.timeoutFor("navigate")),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return p.wrap("navigate", "", err)
		}
		return &NavigationError{URL: url, Err: err}
	}
	// Goto has no response for same-document navigations.
	if resp != nil {
		return checkStatus(url, resp.Status())
	}
	return nil
}

func (p *playwrightPage) Fill(ctx context.Context, selector, value string) error {
	err := p.page.Locator(selector).Fill(value, playwright.LocatorFillOptions{
		Timeout: ms(p.opts.timeoutFor("fill")),
	})
	return p.wrap("fill", selector, err)
}

func (p *playwrightPage) Click(ctx context.Context, selector string) error {
	err := p.page.Locator(selector).Click(playwright.LocatorClickOptions{
		Timeout: ms(p.opts.timeoutFor("click")),
	})
	return p.wrap("click", selector, err)
}

func (p *playwrightPage) Query(ctx context.Context, selector string) ([]Element, error) {
	loc := p.page.Locator(selector)
	texts, err := loc.AllTextContents()
	if err != nil {
		return nil, p.wrap("query", selector, err)
	}
	elements := make([]Element, len(texts))
	for i, text := range texts {
		visible, err := loc.Nth(i).IsVisible()
		if err != nil {
			return nil, p.wrap("query", selector, err)
		}
		elements[i] = Element{Text: text, Visible: visible}
	}
	return elements, nil
}

func (p *playwrightPage) Content(ctx context.Context) (string, error) {
	html, err := p.page.Content()
	return html, p.wrap("content", "", err)
}

func (p *playwrightPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	buf, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
		Type:     playwright.ScreenshotTypePng,
	})
	return buf, p.wrap("screenshot", "", err)
}

func (p *playwrightPage) URL(ctx context.Context) (string, error) {
	return p.page.URL(), nil
}

func (p *playwrightPage) ConsoleErrors() []ConsoleError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConsoleError(nil), p.console...)
}

func (p *playwrightPage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.bctx.Close()
}
