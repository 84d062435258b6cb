package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// BrowserOptions controls how Chrome is launched.
type BrowserOptions struct {
	// ChromePath optionally overrides the Chrome/Chromium executable path.
	// If empty, chromedp looks for a browser on PATH and default locations.
	ChromePath string
	// Headless controls whether Chrome runs without a visible window. A
	// visible window lets the operator finish a second factor by hand.
	Headless bool
	// ActionTimeout bounds every single browser action that has no timeout
	// of its own. If <= 0, DefaultActionTimeout is used.
	ActionTimeout time.Duration
}

// ChromePage implements Page on a single chromedp tab.
type ChromePage struct {
	ctx           context.Context
	actionTimeout time.Duration
}

var _ Page = (*ChromePage)(nil)

// LaunchBrowser starts Chrome and opens one tab. The returned function
// closes the browser.
func LaunchBrowser(ctx context.Context, opts BrowserOptions) (*ChromePage, func(), error) {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = DefaultActionTimeout
	}

	allocatorOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocatorOpts = append(allocatorOpts,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.WindowSize(1280, 1024),
	)
	if opts.ChromePath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(opts.ChromePath))
	}
	if opts.Headless {
		allocatorOpts = append(allocatorOpts, chromedp.Headless)
	} else {
		allocatorOpts = append(allocatorOpts, chromedp.Flag("headless", false))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	closeAll := func() {
		cancelBrowser()
		cancelAlloc()
	}

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("start browser: %w", err)
	}

	slog.Debug("browser started", "headless", opts.Headless, "chrome_path", opts.ChromePath)
	return &ChromePage{ctx: browserCtx, actionTimeout: opts.ActionTimeout}, closeAll, nil
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (p *ChromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url and waits for the network to go idle, or for the body
// to be ready when the page keeps polling in the background.
func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	waitForNetworkIdle := func(ctx context.Context) error {
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return err
		}

		idle := make(chan struct{}, 1)
		listenCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		chromedp.ListenTarget(listenCtx, func(ev interface{}) {
			if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		})

		if err := chromedp.Navigate(url).Do(ctx); err != nil {
			return err
		}

		select {
		case <-idle:
			slog.Debug("network idle", "url", url)
		case <-time.After(DefaultSettleDelay * 5):
			slog.Debug("network still busy, continuing", "url", url)
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	return p.run(ctx, p.actionTimeout,
		chromedp.ActionFunc(waitForNetworkIdle),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// WaitFor waits until selector matches, giving up after timeout.
func (p *ChromePage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	err := p.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%s after %s: %w", selector, timeout, ErrWaitTimeout)
	}
	return err
}

// Count returns how many elements currently match selector. It never waits.
func (p *ChromePage) Count(ctx context.Context, selector string) (int, error) {
	var n int
	script := fmt.Sprintf("document.querySelectorAll(%s).length", jsString(selector))
	if err := p.run(ctx, p.actionTimeout, chromedp.Evaluate(script, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *ChromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, p.actionTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *ChromePage) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx, p.actionTimeout,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *ChromePage) Evaluate(ctx context.Context, script string) error {
	return p.run(ctx, p.actionTimeout, chromedp.Evaluate(script, nil))
}

func (p *ChromePage) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.actionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *ChromePage) InnerHTML(ctx context.Context, selector string) (string, error) {
	var html string
	if err := p.run(ctx, p.actionTimeout, chromedp.InnerHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// SaveSession writes the browser's cookies to path so the next run can skip
// signing in.
func (p *ChromePage) SaveSession(ctx context.Context, path string) error {
	var cookies []*network.Cookie
	err := p.run(ctx, p.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("read cookies: %w", err)
	}
	if err := writeSession(path, cookies, time.Now()); err != nil {
		return err
	}
	slog.Debug("session saved", "path", path, "cookies", len(cookies))
	return nil
}

// RestoreSession loads cookies saved by SaveSession. A missing file is not
// an error; the run simply starts signed out.
func (p *ChromePage) RestoreSession(ctx context.Context, path string) error {
	cookies, err := readSession(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	params := cookieParams(cookies, time.Now())
	if len(params) == 0 {
		return nil
	}
	err = p.run(ctx, p.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("restore cookies: %w", err)
	}
	slog.Debug("session restored", "path", path, "cookies", len(params))
	return nil
}

// sessionFile is the on-disk session layout.
type sessionFile struct {
	SavedAt time.Time         `json:"saved_at"`
	Cookies []*network.Cookie `json:"cookies"`
}

func writeSession(path string, cookies []*network.Cookie, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(sessionFile{SavedAt: now.UTC(), Cookies: cookies}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func readSession(path string) ([]*network.Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", path, err)
	}
	return sf.Cookies, nil
}

// cookieParams converts saved cookies for SetCookies, dropping the ones that
// have already expired.
func cookieParams(cookies []*network.Cookie, now time.Time) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
		}
		if !c.Session && c.Expires > 0 {
			expires := time.Unix(int64(c.Expires), 0)
			if !expires.After(now) {
				continue
			}
			ts := cdp.TimeSinceEpoch(expires)
			param.Expires = &ts
		}
		params = append(params, param)
	}
	return params
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
