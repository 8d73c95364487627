package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dstn-dev/autoenroll/internal/domain"
)

type RenderOptions struct {
	Now time.Time
}

// RenderResult formats a terminal run result for the terminal.
func RenderResult(result domain.RunResult, opts RenderOptions) string {
	s := newStyles()

	lines := []string{
		s.title.Render("Registration Run"),
		outcomeLine(result, s),
	}

	if result.Artifact != "" {
		lines = append(lines, s.key.Render("api key: ")+s.artifact.Render(result.Artifact))
	}
	if result.Category != domain.FailureNone {
		retry := "not retryable"
		if result.Category.Retryable() {
			retry = "retryable"
		}
		lines = append(lines, s.detail.Render(fmt.Sprintf("category: %s (%s)", result.Category, retry)))
	}

	lines = append(lines,
		s.detail.Render("ended in: "+string(result.Trace.Stage)),
		s.detail.Render("attempts: "+attemptSummary(result.Trace.Attempts)),
	)
	if d := duration(result.Trace); d != "" {
		lines = append(lines, s.detail.Render("duration: "+d))
	}
	if result.Trace.LastError != "" {
		lines = append(lines, s.failure.Render("last error: ")+s.detail.Render(result.Trace.LastError))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// RenderAccounts formats the stored account list.
func RenderAccounts(accounts []domain.RegisteredAccount, opts RenderOptions) string {
	s := newStyles()

	lines := []string{
		s.title.Render("Registered Accounts"),
		s.header.Render(fmt.Sprintf("accounts: %d", len(accounts))),
	}

	if len(accounts) == 0 {
		lines = append(lines, s.empty.Render("No accounts registered yet."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, account := range accounts {
		lines = append(lines, s.section.Render(renderAccount(account, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderAccount(account domain.RegisteredAccount, opts RenderOptions, s styles) string {
	parts := []string{
		s.account.Render(fmt.Sprintf("%s %s <%s>", account.FirstName, account.LastName, account.Email)),
	}
	if account.Country != "" {
		parts = append(parts, s.detail.Render("country: "+account.Country))
	}
	if account.APIKey != "" {
		parts = append(parts, s.key.Render("api key: ")+s.artifact.Render(maskKey(account.APIKey)))
	}
	parts = append(parts, s.detail.Render("registered: "+formatRegisteredAt(account.RegisteredAt, opts.Now)))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func outcomeLine(result domain.RunResult, s styles) string {
	switch result.Outcome {
	case domain.OutcomeSuccess:
		return s.success.Render("outcome: success")
	case domain.OutcomeCancelled:
		return s.neutral.Render("outcome: cancelled")
	default:
		return s.failure.Render("outcome: failed")
	}
}

func attemptSummary(attempts domain.AttemptCounters) string {
	parts := []string{}
	add := func(label string, count int) {
		if count > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", label, count))
		}
	}
	add("identity", attempts.Identity)
	add("mailbox", attempts.Mailbox)
	add("navigation", attempts.Navigation)
	add("captcha", attempts.Captcha)
	add("submission", attempts.Submission)
	add("confirmation", attempts.Confirmation)

	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

func duration(trace domain.Trace) string {
	if trace.StartedAt.IsZero() || trace.EndedAt.IsZero() {
		return ""
	}
	return trace.EndedAt.Sub(trace.StartedAt).Round(time.Second).String()
}

// maskKey keeps enough of the key to recognize it without printing the whole
// secret.
func maskKey(key string) string {
	if len(key) <= 10 {
		return key
	}
	return key[:6] + "…" + key[len(key)-4:]
}

func formatRegisteredAt(registeredAt, now time.Time) string {
	if registeredAt.IsZero() {
		return "unknown"
	}
	if now.IsZero() {
		return registeredAt.Format(time.RFC3339)
	}

	age := now.Sub(registeredAt)
	switch {
	case age < time.Hour:
		return "just now"
	case age < 24*time.Hour:
		hours := int(age.Hours())
		return fmt.Sprintf("%dh ago", hours)
	default:
		days := int(age.Hours() / 24)
		return fmt.Sprintf("%dd ago (%s)", days, registeredAt.Format("02 Jan 2006"))
	}
}
