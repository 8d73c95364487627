package chromium

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/dstn-dev/autoenroll/internal/domain"
	"github.com/dstn-dev/autoenroll/internal/ports"
)

const launchProbeTimeout = 20 * time.Second

// Launcher starts Chromium processes through chromedp. One Open call yields
// one isolated browser context.
type Launcher struct {
	// ExecPath overrides the browser binary chromedp discovers on PATH.
	ExecPath string
}

var _ ports.BrowserLauncher = (*Launcher)(nil)

func (l *Launcher) Open(ctx context.Context, cfg ports.BrowserConfig) (ports.BrowserSession, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if l.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.ExecPath))
	}

	// The session outlives the Open call; detach from the caller's
	// cancellation and rely on Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	session := &Session{
		ctx:       browserCtx,
		opTimeout: cfg.OpTimeout,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}

	probeCtx, probeCancel := context.WithTimeout(browserCtx, launchProbeTimeout)
	defer probeCancel()
	if err := chromedp.Run(probeCtx); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrLaunch, err)
	}
	return session, nil
}

// Session drives one Chromium browser context.
type Session struct {
	ctx       context.Context
	opTimeout time.Duration
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ ports.BrowserSession = (*Session)(nil)

func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	runCtx, cancel := s.runContext(ctx, timeout)
	defer cancel()

	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", domain.ErrNavigationTimeout, url)
		}
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	runCtx, cancel := s.runContext(ctx, s.opTimeout)
	defer cancel()

	err := chromedp.Run(runCtx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	return s.elementError("fill", selector, err)
}

func (s *Session) Click(ctx context.Context, selector string) error {
	runCtx, cancel := s.runContext(ctx, s.opTimeout)
	defer cancel()

	err := chromedp.Run(runCtx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	return s.elementError("click", selector, err)
}

func (s *Session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	runCtx, cancel := s.runContext(ctx, timeout)
	defer cancel()

	err := chromedp.Run(runCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	return s.elementError("wait for", selector, err)
}

func (s *Session) ExtractText(ctx context.Context, selector string) (string, error) {
	runCtx, cancel := s.runContext(ctx, s.opTimeout)
	defer cancel()

	var text string
	err := chromedp.Run(runCtx, chromedp.Text(selector, &text, chromedp.ByQuery))
	if err != nil {
		return "", s.elementError("read text of", selector, err)
	}
	return text, nil
}

func (s *Session) ExtractAttr(ctx context.Context, selector, attr string) (string, error) {
	runCtx, cancel := s.runContext(ctx, s.opTimeout)
	defer cancel()

	var value string
	var ok bool
	err := chromedp.Run(runCtx, chromedp.AttributeValue(selector, attr, &value, &ok, chromedp.ByQuery))
	if err != nil {
		return "", s.elementError("read attribute of", selector, err)
	}
	if !ok {
		return "", nil
	}
	return value, nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	runCtx, cancel := s.runContext(ctx, s.opTimeout)
	defer cancel()

	var location string
	if err := chromedp.Run(runCtx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return location, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	runCtx, cancel := s.runContext(ctx, s.opTimeout)
	defer cancel()

	var shot []byte
	if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&shot)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return shot, nil
}

// Close tears down the browser context and process. Safe to call more than
// once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	return nil
}

// runContext merges the caller's cancellation with the session's browser
// context and applies an operation timeout.
func (s *Session) runContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	runCtx, timeoutCancel := context.WithTimeout(s.ctx, timeout)
	stop := context.AfterFunc(ctx, timeoutCancel)
	return runCtx, func() {
		stop()
		timeoutCancel()
	}
}

// elementError maps a deadline on an element wait to the not-found sentinel;
// everything else passes through.
func (s *Session) elementError(action, selector string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", action, selector, domain.ErrElementNotFound)
	}
	return fmt.Errorf("%s %s: %w", action, selector, err)
}
