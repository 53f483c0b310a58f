package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/kidandcat/bankcheck/pkg/locator"
)

// staticDriver loads pages over plain HTTP and queries the served markup
// with goquery. It executes no scripts and renders nothing, so elements are
// visible unless their markup hides them, and Screenshot is unsupported.
// Clicking a link follows it and clicking a submit control submits its form.
type staticDriver struct {
	opts Options
}

func NewStatic(opts Options) Driver {
	return &staticDriver{opts: opts}
}

func (d *staticDriver) NewPage(ctx context.Context) (Page, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Jar: jar}
	if d.opts.HTTPClient != nil {
		client.Transport = d.opts.HTTPClient.Transport
	}
	return &staticPage{opts: d.opts, client: client}, nil
}

func (d *staticDriver) Close() error {
	return nil
}

type staticPage struct {
	opts   Options
	client *http.Client

	mu     sync.Mutex
	doc    *goquery.Document
	url    *url.URL
	width  int
	height int
	closed bool
}

func (p *staticPage) SetViewport(ctx context.Context, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width, p.height = width, height
	return nil
}

func (p *staticPage) Navigate(ctx context.Context, rawURL string) error {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return &NavigationError{URL: rawURL, Err: err}
	}
	return p.load(ctx, req)
}

func (p *staticPage) load(ctx context.Context, req *http.Request) error {
	bound := p.opts.timeoutFor("navigate")
	reqCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	resp, err := p.client.Do(req.WithContext(reqCtx))
	if err != nil {
		if cerr := classify("navigate", "", bound, err); isTimeout(cerr) {
			return cerr
		}
		return &NavigationError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()
	if err := checkStatus(resp.Request.URL.String(), resp.StatusCode); err != nil {
		return err
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return &NavigationError{URL: req.URL.String(), Err: err}
	}

	p.mu.Lock()
	p.doc = doc
	p.url = resp.Request.URL
	p.mu.Unlock()
	return nil
}

func (p *staticPage) document() (*goquery.Document, *url.URL, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, ErrPageClosed
	}
	if p.doc == nil {
		return nil, nil, fmt.Errorf("no page loaded")
	}
	return p.doc, p.url, nil
}

// find resolves a locator against the loaded document.
func find(doc *goquery.Document, l locator.Locator) (*goquery.Selection, error) {
	switch l.Kind {
	case locator.CSS:
		return doc.Find(l.Query), nil
	case locator.Text:
		needle := strings.ToLower(l.Query)
		matches := doc.Find("body *").FilterFunction(func(_ int, s *goquery.Selection) bool {
			if !strings.Contains(normalize(s.Text()), needle) {
				return false
			}
			deeper := s.Children().FilterFunction(func(_ int, c *goquery.Selection) bool {
				return strings.Contains(normalize(c.Text()), needle)
			})
			return deeper.Length() == 0
		})
		return matches, nil
	default:
		return nil, fmt.Errorf("%s locators: %w", l.Kind, ErrUnsupported)
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// hidden reports whether markup alone hides the element or an ancestor.
func hidden(s *goquery.Selection) bool {
	for n := s; n.Length() > 0; n = n.Parent() {
		if _, ok := n.Attr("hidden"); ok {
			return true
		}
		if t, _ := n.Attr("type"); goquery.NodeName(n) == "input" && t == "hidden" {
			return true
		}
		style, _ := n.Attr("style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
	}
	return false
}

// actionable returns the first visible match; a static document never
// changes, so a missing element is reported as a timeout straight away.
func (p *staticPage) actionable(action, selector string) (*goquery.Selection, *url.URL, error) {
	doc, base, err := p.document()
	if err != nil {
		return nil, nil, err
	}
	sel, err := find(doc, locator.Parse(selector))
	if err != nil {
		return nil, nil, err
	}
	sel = sel.FilterFunction(func(_ int, s *goquery.Selection) bool { return !hidden(s) })
	if sel.Length() == 0 {
		return nil, nil, &TimeoutError{Action: action, Locator: selector, Bound: p.opts.timeoutFor(action)}
	}
	return sel.First(), base, nil
}

func (p *staticPage) Fill(ctx context.Context, selector, value string) error {
	el, _, err := p.actionable("fill", selector)
	if err != nil {
		return err
	}
	switch goquery.NodeName(el) {
	case "textarea":
		el.SetText(value)
	case "input":
		el.SetAttr("value", value)
	default:
		return fmt.Errorf("fill %s: element is not an input", selector)
	}
	return nil
}

func (p *staticPage) Click(ctx context.Context, selector string) error {
	el, base, err := p.actionable("click", selector)
	if err != nil {
		return err
	}

	if href, ok := el.Closest("a[href]").Attr("href"); ok {
		target, err := base.Parse(href)
		if err != nil {
			return fmt.Errorf("click %s: %w", selector, err)
		}
		req, err := http.NewRequest(http.MethodGet, target.String(), nil)
		if err != nil {
			return err
		}
		return p.load(ctx, req)
	}

	typ, _ := el.Attr("type")
	node := goquery.NodeName(el)
	submits := (node == "button" && (typ == "" || typ == "submit")) || (node == "input" && (typ == "submit" || typ == "image"))
	form := el.Closest("form")
	if !submits || form.Length() == 0 {
		return nil
	}
	return p.submit(ctx, base, form)
}

func (p *staticPage) submit(ctx context.Context, base *url.URL, form *goquery.Selection) error {
	values := url.Values{}
	form.Find("input[name], textarea[name], select[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		switch goquery.NodeName(s) {
		case "textarea":
			values.Add(name, s.Text())
		case "select":
			v, _ := s.Find("option[selected]").First().Attr("value")
			values.Add(name, v)
		default:
			typ, _ := s.Attr("type")
			if typ == "checkbox" || typ == "radio" {
				if _, checked := s.Attr("checked"); !checked {
					return
				}
			}
			if typ == "submit" || typ == "image" {
				return
			}
			v, _ := s.Attr("value")
			values.Add(name, v)
		}
	})

	action, _ := form.Attr("action")
	target, err := base.Parse(action)
	if err != nil {
		return fmt.Errorf("submit form: %w", err)
	}

	var req *http.Request
	if method, _ := form.Attr("method"); strings.EqualFold(method, http.MethodPost) {
		req, err = http.NewRequest(http.MethodPost, target.String(), strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		target.RawQuery = values.Encode()
		req, err = http.NewRequest(http.MethodGet, target.String(), nil)
	}
	if err != nil {
		return err
	}
	return p.load(ctx, req)
}

func (p *staticPage) Query(ctx context.Context, selector string) ([]Element, error) {
	doc, _, err := p.document()
	if err != nil {
		return nil, err
	}
	sel, err := find(doc, locator.Parse(selector))
	if err != nil {
		return nil, err
	}
	elements := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		elements = append(elements, Element{Text: s.Text(), Visible: !hidden(s)})
	})
	return elements, nil
}

func (p *staticPage) Content(ctx context.Context) (string, error) {
	doc, _, err := p.document()
	if err != nil {
		return "", err
	}
	return goquery.OuterHtml(doc.Selection)
}

func (p *staticPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return nil, fmt.Errorf("screenshot: %w", ErrUnsupported)
}

func (p *staticPage) URL(ctx context.Context) (string, error) {
	_, u, err := p.document()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (p *staticPage) ConsoleErrors() []ConsoleError {
	return nil
}

func (p *staticPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.doc = nil
	return nil
}
