package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dstn-dev/autoenroll/internal/domain"
	"github.com/dstn-dev/autoenroll/internal/ports"
)

// fakeClock advances instantly on Sleep so retry and polling schedules run
// without real delays.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

type fillCall struct {
	selector string
	value    string
}

// fakeSession scripts page behavior through closures; unset hooks behave
// like an empty page.
type fakeSession struct {
	mu          sync.Mutex
	navigations []string
	fills       []fillCall
	clicks      []string
	closeCount  int

	navigateErr func(url string) error
	fillErr     func(selector string) error
	present     func(selector string) bool
	attr        func(selector, attr string) (string, error)
	text        func(selector string) (string, error)
	currentURL  func() string
}

func (s *fakeSession) Navigate(_ context.Context, url string, _ time.Duration) error {
	s.mu.Lock()
	s.navigations = append(s.navigations, url)
	s.mu.Unlock()
	if s.navigateErr != nil {
		return s.navigateErr(url)
	}
	return nil
}

func (s *fakeSession) Fill(_ context.Context, selector, value string) error {
	if s.fillErr != nil {
		if err := s.fillErr(selector); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.fills = append(s.fills, fillCall{selector: selector, value: value})
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Click(_ context.Context, selector string) error {
	s.mu.Lock()
	s.clicks = append(s.clicks, selector)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) WaitForSelector(_ context.Context, selector string, _ time.Duration) error {
	if s.present != nil && s.present(selector) {
		return nil
	}
	return fmt.Errorf("wait for %s: %w", selector, domain.ErrElementNotFound)
}

func (s *fakeSession) ExtractText(_ context.Context, selector string) (string, error) {
	if s.text != nil {
		return s.text(selector)
	}
	return "", domain.ErrElementNotFound
}

func (s *fakeSession) ExtractAttr(_ context.Context, selector, attr string) (string, error) {
	if s.attr != nil {
		return s.attr(selector, attr)
	}
	return "", domain.ErrElementNotFound
}

func (s *fakeSession) CurrentURL(context.Context) (string, error) {
	if s.currentURL != nil {
		return s.currentURL(), nil
	}
	return "about:blank", nil
}

func (s *fakeSession) Screenshot(context.Context) ([]byte, error) { return nil, nil }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	return nil
}

func (s *fakeSession) clickCount(selector string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, click := range s.clicks {
		if click == selector {
			count++
		}
	}
	return count
}

func (s *fakeSession) filled(selector string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var values []string
	for _, fill := range s.fills {
		if fill.selector == selector {
			values = append(values, fill.value)
		}
	}
	return values
}

type fakeLauncher struct {
	mu      sync.Mutex
	session *fakeSession
	err     error
	opens   int
}

func (l *fakeLauncher) Open(_ context.Context, _ ports.BrowserConfig) (ports.BrowserSession, error) {
	l.mu.Lock()
	l.opens++
	l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

type fakeIdentities struct {
	mu    sync.Mutex
	count int
	errs  []error
}

func (f *fakeIdentities) Generate(context.Context) (domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return domain.Identity{}, err
		}
	}
	f.count++
	local := "alice.w"
	if f.count > 1 {
		local = fmt.Sprintf("alice.w%d", f.count)
	}
	return domain.Identity{
		FirstName:      "Alice",
		LastName:       "Wonderland",
		EmailLocalPart: local,
		Password:       "Passw0rd!",
		Country:        "US",
	}, nil
}

type fakeMailboxes struct {
	mu           sync.Mutex
	provisions   int
	deactivated  []string
	provisionErr func(attempt int) error
}

func (f *fakeMailboxes) Provision(_ context.Context, hint string) (domain.MailboxHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisions++
	if f.provisionErr != nil {
		if err := f.provisionErr(f.provisions); err != nil {
			return domain.MailboxHandle{}, err
		}
	}
	return domain.MailboxHandle{
		ForwardingAddress: hint + "@relay.test",
		ProviderID:        fmt.Sprintf("mask-%d", f.provisions),
	}, nil
}

func (f *fakeMailboxes) Deactivate(_ context.Context, handle domain.MailboxHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, handle.ProviderID)
	return nil
}

func (f *fakeMailboxes) CheckActive(context.Context, domain.MailboxHandle) (bool, error) {
	return true, nil
}

func (f *fakeMailboxes) deactivations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deactivated...)
}

type fakeTranscriber struct {
	mu      sync.Mutex
	calls   int
	results []func() (domain.TranscriptionResult, error)
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string) (domain.TranscriptionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.results) {
		return domain.TranscriptionResult{}, domain.ErrBackendsExhausted
	}
	result := f.results[f.calls]
	f.calls++
	return result()
}

type fakeInbox struct {
	mu     sync.Mutex
	search func(ctx context.Context, query domain.InboxQuery) ([]domain.MessageSummary, error)
	count  int
}

func (f *fakeInbox) Search(ctx context.Context, query domain.InboxQuery) ([]domain.MessageSummary, error) {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
	return f.search(ctx, query)
}

func (f *fakeInbox) searches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

type fakeAccounts struct {
	mu    sync.Mutex
	saved []domain.RegisteredAccount
}

func (f *fakeAccounts) Save(_ context.Context, account domain.RegisteredAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, account)
	return nil
}

func (f *fakeAccounts) List(context.Context) ([]domain.RegisteredAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RegisteredAccount(nil), f.saved...), nil
}
