package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dstn-dev/autoenroll/internal/ctxlog"
	"github.com/dstn-dev/autoenroll/internal/domain"
	"github.com/dstn-dev/autoenroll/internal/ports"
)

// MessageMatcher reports whether a message summary is the awaited
// confirmation mail.
type MessageMatcher func(domain.MessageSummary) bool

// PollSchedule polls quickly for fast-arriving mail, then settles into a
// longer steady interval to bound request volume against the provider.
type PollSchedule struct {
	FastInterval   time.Duration
	FastCount      int
	SteadyInterval time.Duration
}

func (s PollSchedule) normalized() PollSchedule {
	if s.FastInterval <= 0 {
		s.FastInterval = 2 * time.Second
	}
	if s.FastCount <= 0 {
		s.FastCount = 5
	}
	if s.SteadyInterval <= 0 {
		s.SteadyInterval = 10 * time.Second
	}
	return s
}

// IntervalAfter returns the wait before the next poll, given how many polls
// have already been issued.
func (s PollSchedule) IntervalAfter(polls int) time.Duration {
	s = s.normalized()
	if polls < s.FastCount {
		return s.FastInterval
	}
	return s.SteadyInterval
}

// InboxPoller awaits one matching message within a hard deadline. Provider
// errors are retryable inside the deadline; only deadline expiry, a mailbox
// deactivation signal, or cancellation end the wait early.
type InboxPoller struct {
	client    ports.InboxClient
	clock     ports.Clock
	schedule  PollSchedule
	newerThan time.Duration
}

func NewInboxPoller(client ports.InboxClient, clock ports.Clock, schedule PollSchedule) *InboxPoller {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &InboxPoller{
		client:    client,
		clock:     clock,
		schedule:  schedule.normalized(),
		newerThan: 48 * time.Hour,
	}
}

func (p *InboxPoller) AwaitMessage(ctx context.Context, mailbox domain.MailboxHandle, match MessageMatcher, deadline time.Duration) (domain.ConfirmationMessage, error) {
	if match == nil {
		return domain.ConfirmationMessage{}, errors.New("message matcher is required")
	}
	if deadline <= 0 {
		return domain.ConfirmationMessage{}, errors.New("deadline must be positive")
	}

	log := ctxlog.FromContext(ctx)
	expiry := p.clock.Now().Add(deadline)
	query := domain.InboxQuery{
		To:         mailbox.ForwardingAddress,
		NewerThan:  p.newerThan,
		MaxResults: 10,
	}

	polls := 0
	for {
		if err := ctx.Err(); err != nil {
			return domain.ConfirmationMessage{}, err
		}

		polls++
		messages, err := p.client.Search(ctx, query)
		switch {
		case err == nil:
			for _, message := range messages {
				if !match(message) {
					continue
				}
				return domain.ConfirmationMessage{
					ReceivedAt: message.ReceivedAt,
					LinkURL:    message.LinkURL,
					RawSubject: message.Subject,
				}, nil
			}
		case errors.Is(err, domain.ErrMailboxDeactivated):
			return domain.ConfirmationMessage{}, fmt.Errorf("await confirmation: %w", err)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return domain.ConfirmationMessage{}, err
		default:
			log.Warn("inbox poll failed, retrying within deadline",
				"poll", polls,
				"error", err)
		}

		wait := p.schedule.IntervalAfter(polls)
		if p.clock.Now().Add(wait).After(expiry) {
			return domain.ConfirmationMessage{}, fmt.Errorf("%w within %s", domain.ErrConfirmationWait, deadline)
		}
		if err := p.clock.Sleep(ctx, wait); err != nil {
			return domain.ConfirmationMessage{}, err
		}
	}
}
