// Package browser drives a headless Chrome for the Kite web login.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"autokite/internal/interfaces"
	"autokite/internal/session"
	"autokite/internal/store"
)

// Launcher starts one Chrome process per login.
type Launcher struct {
	execPath       string
	headful        bool
	elementTimeout time.Duration
}

var _ interfaces.BrowserLauncher = (*Launcher)(nil)

func NewLauncher(cfg *store.Config) *Launcher {
	return &Launcher{
		execPath:       cfg.Login.DriverPath,
		headful:        cfg.Login.Headful,
		elementTimeout: cfg.Login.ElementTimeout,
	}
}

func (l *Launcher) Launch(ctx context.Context) (interfaces.Browser, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if l.execPath != "" {
		opts = append(opts, chromedp.ExecPath(l.execPath))
	}
	if l.headful {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	c := &chrome{
		ctx:            tabCtx,
		elementTimeout: l.elementTimeout,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}

	chromedp.ListenTarget(tabCtx, c.onEvent)
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		c.cancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}
	return c, nil
}

// chrome tracks the last top-level document request so the redirect URL is
// known even when the redirect target itself fails to load.
type chrome struct {
	ctx            context.Context
	cancel         func()
	elementTimeout time.Duration

	mu      sync.Mutex
	lastURL string
}

func (c *chrome) onEvent(ev any) {
	if e, ok := ev.(*network.EventRequestWillBeSent); ok && e.Type == network.ResourceTypeDocument {
		c.mu.Lock()
		c.lastURL = e.Request.URL
		c.mu.Unlock()
	}
}

// run executes actions on the tab, bounded by both ctx and the tab's lifetime.
func (c *chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(c.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(c.ctx)
	}
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (c *chrome) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, 0, chromedp.Navigate(url))
}

func (c *chrome) Fill(ctx context.Context, selector, value string) error {
	err := c.run(ctx, c.elementTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	return elementErr(selector, err)
}

func (c *chrome) Click(ctx context.Context, selector string) error {
	err := c.run(ctx, c.elementTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	return elementErr(selector, err)
}

func (c *chrome) CurrentURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	last := c.lastURL
	c.mu.Unlock()
	if last != "" {
		return last, nil
	}

	var loc string
	if err := c.run(ctx, c.elementTimeout, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (c *chrome) Quit() error {
	err := chromedp.Cancel(c.ctx)
	c.cancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func elementErr(selector string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", session.ErrElementNotFound, selector)
	}
	return fmt.Errorf("browser action on %s: %w", selector, err)
}
