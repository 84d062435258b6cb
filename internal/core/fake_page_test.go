package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// fakePage is an in-memory Page. Element presence is a selector->count map;
// hooks let a test change the page when the scraper clicks or navigates.
type fakePage struct {
	mu sync.Mutex

	counts  map[string]int
	inner   map[string]string
	content string

	navigateErr error
	countErr    error

	onNavigate func(f *fakePage, url string)
	onClick    func(f *fakePage, selector string) error
	onWait     func(f *fakePage, selector string, timeout time.Duration)
	onEvaluate func(f *fakePage, script string)

	navigated []string
	clicks    []string
	fills     map[string]string
	evaluated []string
	waits     []string
	saved     []string
	restored  []string
}

func newFakePage(present ...string) *fakePage {
	f := &fakePage{
		counts: make(map[string]int),
		inner:  make(map[string]string),
		fills:  make(map[string]string),
	}
	for _, sel := range present {
		f.counts[sel] = 1
	}
	return f
}

// set must be called with f.mu held or from a hook.
func (f *fakePage) set(selector string, n int) { f.counts[selector] = n }

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	if f.navigateErr != nil {
		return f.navigateErr
	}
	if f.onNavigate != nil {
		f.onNavigate(f, url)
	}
	return nil
}

func (f *fakePage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, selector)
	if f.onWait != nil {
		f.onWait(f, selector, timeout)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for sel, n := range f.counts {
		if n > 0 && overlaps(sel, selector) {
			return nil
		}
	}
	return fmt.Errorf("%s: %w", selector, ErrWaitTimeout)
}

// overlaps reports whether two selector lists share an alternative.
func overlaps(a, b string) bool {
	for _, x := range strings.Split(a, ", ") {
		for _, y := range strings.Split(b, ", ") {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (f *fakePage) Count(_ context.Context, selector string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.counts[selector], nil
}

func (f *fakePage) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, selector)
	if f.onClick != nil {
		return f.onClick(f, selector)
	}
	return nil
}

func (f *fakePage) Fill(_ context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[selector] == 0 {
		return errors.New("no element for " + selector)
	}
	f.fills[selector] = value
	return nil
}

func (f *fakePage) Evaluate(_ context.Context, script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluated = append(f.evaluated, script)
	if f.onEvaluate != nil {
		f.onEvaluate(f, script)
	}
	return nil
}

func (f *fakePage) Content(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content, nil
}

func (f *fakePage) InnerHTML(_ context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	html, ok := f.inner[selector]
	if !ok {
		return "", fmt.Errorf("%s: %w", selector, ErrWaitTimeout)
	}
	return html, nil
}

func (f *fakePage) SaveSession(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, path)
	return nil
}

func (f *fakePage) RestoreSession(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, path)
	return nil
}
