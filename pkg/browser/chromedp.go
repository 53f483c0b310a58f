package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/kidandcat/bankcheck/pkg/locator"
)

type chromedpDriver struct {
	opts        Options
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

func NewChromedp(opts Options) (Driver, error) {
	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.Flag("no-sandbox", true),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	return &chromedpDriver{
		opts:        opts,
		allocCtx:    allocCtx,
		allocCancel: cancel,
	}, nil
}

// NewPage starts a new browser for every page; nothing is shared between
// pages but the allocator options.
func (d *chromedpDriver) NewPage(ctx context.Context) (Page, error) {
	pageCtx, cancel := chromedp.NewContext(d.allocCtx)
	p := &chromedpPage{opts: d.opts, ctx: pageCtx, cancel: cancel}

	chromedp.ListenTarget(pageCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			if ev.Type == runtime.APITypeError {
				var message string
				if len(ev.Args) > 0 && ev.Args[0].Value != nil {
					message = string(ev.Args[0].Value)
				}
				p.recordConsole(message, string(ev.Type))
			}
		case *runtime.EventExceptionThrown:
			if ev.ExceptionDetails != nil {
				p.recordConsole(ev.ExceptionDetails.Text, "exception")
			}
		}
	})

	// Running no actions launches the browser and attaches the tab.
	startCtx, stop := p.bound(ctx, d.opts.timeoutFor("launch"))
	defer stop()
	if err := chromedp.Run(startCtx); err != nil {
		cancel()
		return nil, classify("launch", "", d.opts.timeoutFor("launch"), err)
	}
	return p, nil
}

func (d *chromedpDriver) Close() error {
	if d.allocCancel != nil {
		d.allocCancel()
	}
	return nil
}

type chromedpPage struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	url     string
	console []ConsoleError
	closed  bool
}

// bound derives an action context from the page context that also ends when
// the caller's context does.
func (p *chromedpPage) bound(ctx context.Context, d time.Duration) (context.Context, func()) {
	actCtx, cancel := context.WithTimeout(p.ctx, d)
	stop := context.AfterFunc(ctx, cancel)
	return actCtx, func() {
		stop()
		cancel()
	}
}

func (p *chromedpPage) recordConsole(message, typ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.console = append(p.console, ConsoleError{
		Message:   message,
		Type:      typ,
		Timestamp: time.Now(),
		URL:       p.url,
	})
}

func (p *chromedpPage) run(ctx context.Context, action, selector string, actions ...chromedp.Action) error {
	bound := p.opts.timeoutFor(action)
	actCtx, stop := p.bound(ctx, bound)
	defer stop()
	return classify(action, selector, bound, chromedp.Run(actCtx, actions...))
}

func by(l locator.Locator) (string, chromedp.QueryOption, error) {
	if l.Kind == locator.CSS {
		return l.Query, chromedp.ByQuery, nil
	}
	x, err := l.XPathQuery()
	if err != nil {
		return "", nil, err
	}
	return x, chromedp.BySearch, nil
}

func (p *chromedpPage) SetViewport(ctx context.Context, width, height int) error {
	return p.run(ctx, "viewport", "", chromedp.EmulateViewport(int64(width), int64(height)))
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	bound := p.opts.timeoutFor("navigate")
	actCtx, stop := p.bound(ctx, bound)
	defer stop()

	resp, err := chromedp.RunResponse(actCtx, chromedp.Navigate(url))
	if err != nil {
		if cerr := classify("navigate", "", bound, err); isTimeout(cerr) {
			return cerr
		}
		return &NavigationError{URL: url, Err: err}
	}
	if resp != nil {
		if err := checkStatus(url, int(resp.Status)); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *chromedpPage) Fill(ctx context.Context, selector, value string) error {
	q, opt, err := by(locator.Parse(selector))
	if err != nil {
		return err
	}
	return p.run(ctx, "fill", selector,
		chromedp.WaitVisible(q, opt),
		chromedp.Clear(q, opt),
		chromedp.SendKeys(q, value, opt),
	)
}

func (p *chromedpPage) Click(ctx context.Context, selector string) error {
	q, opt, err := by(locator.Parse(selector))
	if err != nil {
		return err
	}
	return p.run(ctx, "click", selector, chromedp.Click(q, chromedp.NodeVisible, opt))
}

func (p *chromedpPage) Query(ctx context.Context, selector string) ([]Element, error) {
	expr, err := queryExpression(locator.Parse(selector))
	if err != nil {
		return nil, err
	}
	var elements []Element
	if err := p.run(ctx, "query", selector, chromedp.Evaluate(expr, &elements)); err != nil {
		return nil, err
	}
	return elements, nil
}

func (p *chromedpPage) Content(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, "content", "", chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromedpPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := p.run(ctx, "screenshot", "", action); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromedpPage) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, "location", "", chromedp.Location(&url))
	return url, err
}

func (p *chromedpPage) ConsoleErrors() []ConsoleError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConsoleError(nil), p.console...)
}

func (p *chromedpPage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	return nil
}
