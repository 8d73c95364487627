package ports

import (
	"context"
	"time"
)

// BrowserConfig configures one browser session.
type BrowserConfig struct {
	Headless  bool
	UserAgent string
	// OpTimeout bounds each element-level operation. Distinct from the
	// orchestrator's stage-level deadlines.
	OpTimeout time.Duration
}

// BrowserLauncher opens browser sessions. Launch failures surface as
// domain.ErrLaunch.
type BrowserLauncher interface {
	Open(ctx context.Context, cfg BrowserConfig) (BrowserSession, error)
}

// BrowserSession owns one automated browser context. Element operations
// wait-and-poll for the selector up to the session's operation timeout and
// report domain.ErrElementNotFound when it never appears. Close is
// idempotent and always releases the underlying process resources.
type BrowserSession interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	ExtractText(ctx context.Context, selector string) (string, error)
	ExtractAttr(ctx context.Context, selector, attr string) (string, error)
	CurrentURL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}
