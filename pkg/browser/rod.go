package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/kidandcat/bankcheck/pkg/locator"
)

type rodDriver struct {
	opts    Options
	browser *rod.Browser
}

func NewRod(opts Options) (Driver, error) {
	u, err := launcher.New().Headless(opts.Headless).NoSandbox(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return &rodDriver{opts: opts, browser: b}, nil
}

// NewPage opens the page inside its own incognito browser context.
func (d *rodDriver) NewPage(ctx context.Context) (Page, error) {
	incognito, err := d.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		incognito.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}

	p := &rodPage{opts: d.opts, browser: incognito, page: page}
	go page.EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
		if e.Type != proto.RuntimeConsoleAPICalledTypeError {
			return
		}
		var message string
		if len(e.Args) > 0 {
			message = e.Args[0].Value.Str()
		}
		p.mu.Lock()
		p.console = append(p.console, ConsoleError{
			Message:   message,
			Type:      string(e.Type),
			Timestamp: time.Now(),
			URL:       p.url,
		})
		p.mu.Unlock()
	})()
	return p, nil
}

func (d *rodDriver) Close() error {
	return d.browser.Close()
}

type rodPage struct {
	opts    Options
	browser *rod.Browser
	page    *rod.Page

	mu      sync.Mutex
	url     string
	console []ConsoleError
	closed  bool
}

func (p *rodPage) timed(ctx context.Context, action string) *rod.Page {
	return p.page.Context(ctx).Timeout(p.opts.timeoutFor(action))
}

func (p *rodPage) element(ctx context.Context, action, selector string) (*rod.Element, error) {
	l := locator.Parse(selector)
	page := p.timed(ctx, action)

	var el *rod.Element
	var err error
	if l.Kind == locator.CSS {
		el, err = page.Element(l.Query)
	} else {
		var x string
		if x, err = l.XPathQuery(); err != nil {
			return nil, err
		}
		el, err = page.ElementX(x)
	}
	if err != nil {
		return nil, classify(action, selector, p.opts.timeoutFor(action), err)
	}
	if err := el.WaitVisible(); err != nil {
		return nil, classify(action, selector, p.opts.timeoutFor(action), err)
	}
	return el, nil
}

func (p *rodPage) SetViewport(ctx context.Context, width, height int) error {
	err := p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
	return classify("viewport", "", p.opts.timeoutFor("viewport"), err)
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.timed(ctx, "navigate")
	status := 0
	waitDocument := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		status = e.Response.Status
		return true
	})
	err := page.Navigate(url)
	if err == nil {
		waitDocument()
		err = page.WaitLoad()
	}
	if err != nil {
		if cerr := classify("navigate", "", p.opts.timeoutFor("navigate"), err); isTimeout(cerr) {
			return cerr
		}
		return &NavigationError{URL: url, Err: err}
	}
	if err := checkStatus(url, status); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *rodPage) Fill(ctx context.Context, selector, value string) error {
	el, err := p.element(ctx, "fill", selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return classify("fill", selector, p.opts.timeoutFor("fill"), err)
	}
	return classify("fill", selector, p.opts.timeoutFor("fill"), el.Input(value))
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.element(ctx, "click", selector)
	if err != nil {
		return err
	}
	return classify("click", selector, p.opts.timeoutFor("click"), el.Click(proto.InputMouseButtonLeft, 1))
}

func (p *rodPage) Query(ctx context.Context, selector string) ([]Element, error) {
	kind, query, err := engineQuery(locator.Parse(selector))
	if err != nil {
		return nil, err
	}
	obj, err := p.timed(ctx, "query").Eval(queryFunc, kind, query)
	if err != nil {
		return nil, classify("query", selector, p.opts.timeoutFor("query"), err)
	}
	var elements []Element
	if err := json.Unmarshal([]byte(obj.Value.JSON("", "")), &elements); err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	return elements, nil
}

func (p *rodPage) Content(ctx context.Context) (string, error) {
	html, err := p.timed(ctx, "content").HTML()
	return html, classify("content", "", p.opts.timeoutFor("content"), err)
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	buf, err := p.timed(ctx, "screenshot").Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	return buf, classify("screenshot", "", p.opts.timeoutFor("screenshot"), err)
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", classify("location", "", p.opts.timeoutFor("location"), err)
	}
	return info.URL, nil
}

func (p *rodPage) ConsoleErrors() []ConsoleError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConsoleError(nil), p.console...)
}

// Close disposes the incognito context, which takes the page with it.
func (p *rodPage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.browser.Close()
}

func isTimeout(err error) bool {
	_, ok := err.(*TimeoutError)
	return ok
}
