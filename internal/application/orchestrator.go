package application

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dstn-dev/autoenroll/internal/ctxlog"
	"github.com/dstn-dev/autoenroll/internal/domain"
	"github.com/dstn-dev/autoenroll/internal/ports"
)

// Selectors maps the registration flow onto the target pages. Defaults match
// the Cloud Skills Boost layout.
type Selectors struct {
	FirstName       string
	LastName        string
	Email           string
	Company         string
	Password        string
	PasswordConfirm string
	Submit          string
	ValidationError string

	CaptchaFrame       string
	CaptchaAudioButton string
	CaptchaAudioSource string
	CaptchaInput       string
	CaptchaVerify      string
	CaptchaResponse    string

	LoginEmail    string
	LoginPassword string
	LoginSubmit   string

	StartLab string
	Artifact string
}

func (s Selectors) withDefaults() Selectors {
	def := func(v *string, fallback string) {
		if *v == "" {
			*v = fallback
		}
	}
	def(&s.FirstName, "input[name='user[first_name]']")
	def(&s.LastName, "input[name='user[last_name]']")
	def(&s.Email, "input[name='user[email]']")
	def(&s.Company, "input[name='user[company_name]']")
	def(&s.Password, "input[name='user[password]']")
	def(&s.PasswordConfirm, "input[name='user[password_confirmation]']")
	def(&s.Submit, "button[type='submit']")
	def(&s.ValidationError, ".error, .errors, [role='alert']")
	def(&s.CaptchaFrame, "iframe[title*='reCAPTCHA']")
	def(&s.CaptchaAudioButton, "#recaptcha-audio-button")
	def(&s.CaptchaAudioSource, "#audio-source")
	def(&s.CaptchaInput, "#audio-response")
	def(&s.CaptchaVerify, "#recaptcha-verify-button")
	def(&s.CaptchaResponse, "textarea[name='g-recaptcha-response']")
	def(&s.LoginEmail, "input[type='email']")
	def(&s.LoginPassword, "input[type='password']")
	def(&s.LoginSubmit, "button[type='submit']")
	def(&s.StartLab, "button[data-action='start-lab'], ql-lab-control-button")
	def(&s.Artifact, "[data-testid='api-key'], code.api-key")
	return s
}

// OrchestratorConfig carries every per-run knob: URLs, selectors, retry
// bounds, and deadlines.
type OrchestratorConfig struct {
	RegisterURL string
	LabURL      string
	Selectors   Selectors

	Browser ports.BrowserConfig

	NavTimeout          time.Duration
	CaptchaProbeTimeout time.Duration
	SubmitSettle        time.Duration
	SubmitCooldown      time.Duration
	ConfirmDeadline     time.Duration

	MaxIdentityAttempts int
	MaxCaptchaAttempts  int
	MaxSubmitAttempts   int

	Retry RetryPolicy
	Poll  PollSchedule

	// ConfirmSubject / ConfirmSender narrow the awaited confirmation mail.
	// A message matches when either matches (or both are empty).
	ConfirmSubject string
	ConfirmSender  string

	// ScreenshotDir, when set, receives a PNG capture of the page on every
	// stage failure.
	ScreenshotDir string
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	c.Selectors = c.Selectors.withDefaults()
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.CaptchaProbeTimeout <= 0 {
		c.CaptchaProbeTimeout = 5 * time.Second
	}
	if c.SubmitSettle <= 0 {
		c.SubmitSettle = 2 * time.Second
	}
	if c.SubmitCooldown <= 0 {
		c.SubmitCooldown = 30 * time.Second
	}
	if c.ConfirmDeadline <= 0 {
		c.ConfirmDeadline = 3 * time.Minute
	}
	if c.MaxIdentityAttempts <= 0 {
		c.MaxIdentityAttempts = 3
	}
	if c.MaxCaptchaAttempts <= 0 {
		c.MaxCaptchaAttempts = 5
	}
	if c.MaxSubmitAttempts <= 0 {
		c.MaxSubmitAttempts = 3
	}
	if c.Browser.OpTimeout <= 0 {
		c.Browser.OpTimeout = 10 * time.Second
	}
	return c
}

func (c OrchestratorConfig) validate() error {
	if err := validateHTTPURL(c.RegisterURL); err != nil {
		return fmt.Errorf("register url: %w", err)
	}
	if err := validateHTTPURL(c.LabURL); err != nil {
		return fmt.Errorf("lab url: %w", err)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("must use http or https")
	}
	if parsed.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

// OrchestratorDeps are the collaborators one run drives.
type OrchestratorDeps struct {
	Launcher    ports.BrowserLauncher
	Identities  ports.IdentityProvider
	Mailboxes   ports.MailboxService
	Transcriber ports.Transcriber
	Inbox       *InboxPoller
	Accounts    ports.AccountRepository
	Clock       ports.Clock
}

// Orchestrator executes one registration run as a sequential state machine.
// A single Orchestrator value serves a single run; concurrent runs each get
// their own.
type Orchestrator struct {
	cfg  OrchestratorConfig
	deps OrchestratorDeps

	mu       sync.Mutex
	state    domain.RunState
	artifact string
}

func NewOrchestrator(cfg OrchestratorConfig, deps OrchestratorDeps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	return &Orchestrator{
		cfg:  cfg.withDefaults(),
		deps: deps,
		state: domain.RunState{
			RunID: uuid.NewString(),
			Stage: domain.StageInit,
		},
	}
}

// Status returns the externally visible view of the run.
func (o *Orchestrator) Status() domain.RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return domain.RunStatus{
		RunID:    o.state.RunID,
		Stage:    o.state.Stage,
		Attempts: o.state.Attempts,
	}
}

type runError struct {
	category domain.FailureCategory
	err      error
}

func failRun(category domain.FailureCategory, err error) *runError {
	return &runError{category: category, err: err}
}

// runResources tracks what must be released on every exit path.
type runResources struct {
	session ports.BrowserSession
	mailbox domain.MailboxHandle
}

// Run drives the state machine to a terminal result. The browser session and
// mailbox are released on every exit path, cancellation included.
func (o *Orchestrator) Run(ctx context.Context) domain.RunResult {
	o.mu.Lock()
	o.state.StartedAt = o.deps.Clock.Now()
	o.mu.Unlock()

	resources := &runResources{}
	result := o.execute(ctx, resources)
	o.release(ctx, resources)
	return result
}

func (o *Orchestrator) execute(ctx context.Context, res *runResources) domain.RunResult {
	log := ctxlog.FromContext(ctx)

	if err := o.cfg.validate(); err != nil {
		return o.finish(domain.OutcomeFailed, domain.FailureConfig, err)
	}

	for {
		stage := o.stage()
		if stage.Terminal() {
			break
		}
		if ctx.Err() != nil {
			return o.finish(domain.OutcomeCancelled, domain.FailureNone, ctx.Err())
		}

		var runErr *runError
		switch stage {
		case domain.StageInit:
			runErr = o.generateIdentity(ctx)
		case domain.StageIdentityReady:
			runErr = o.provisionMailbox(ctx, res)
		case domain.StageMailboxProvisioned:
			runErr = o.fillForm(ctx, res)
		case domain.StageFormFilled:
			runErr = o.probeCaptcha(ctx, res)
		case domain.StageCaptchaPending:
			runErr = o.solveCaptcha(ctx, res)
		case domain.StageCaptchaSolved:
			runErr = o.submitForm(ctx, res)
		case domain.StageSubmitted:
			o.setStage(domain.StageAwaitingConfirmation)
		case domain.StageAwaitingConfirmation:
			runErr = o.followConfirmation(ctx, res)
		case domain.StageConfirmationFollowed:
			runErr = o.startLab(ctx, res)
		case domain.StageLabStarted:
			runErr = o.extractArtifact(ctx, res)
		case domain.StageArtifactExtracted:
			o.persistAccount(ctx, res)
			o.setStage(domain.StageDone)
		default:
			runErr = failRun(domain.FailureConfig, fmt.Errorf("unexpected stage %q", stage))
		}

		if runErr != nil {
			if ctx.Err() != nil {
				return o.finish(domain.OutcomeCancelled, domain.FailureNone, ctx.Err())
			}
			log.Error("run failed",
				"run_id", o.state.RunID,
				"stage", string(stage),
				"category", string(runErr.category),
				"error", runErr.err)
			o.captureFailure(ctx, res)
			return o.finish(domain.OutcomeFailed, runErr.category, runErr.err)
		}
	}

	return o.finish(domain.OutcomeSuccess, domain.FailureNone, nil)
}

// Init -> IdentityReady. Upstream unavailability is retried with backoff;
// exhaustion fails the run.
func (o *Orchestrator) generateIdentity(ctx context.Context) *runError {
	var identity domain.Identity
	err := o.cfg.Retry.Do(ctx, o.deps.Clock, func(ctx context.Context) error {
		var genErr error
		identity, genErr = o.deps.Identities.Generate(ctx)
		return genErr
	})
	if err != nil {
		return failRun(domain.FailureIdentityProvision, fmt.Errorf("generate identity: %w", err))
	}

	o.mu.Lock()
	o.state.Identity = identity
	o.state.Attempts.Identity++
	o.mu.Unlock()

	ctxlog.FromContext(ctx).Info("identity ready",
		"run_id", o.state.RunID,
		"name", identity.FullName(),
		"attempt", o.Status().Attempts.Identity)
	o.setStage(domain.StageIdentityReady)
	return nil
}

// IdentityReady -> MailboxProvisioned, with transient retries.
func (o *Orchestrator) provisionMailbox(ctx context.Context, res *runResources) *runError {
	hint := o.state.Identity.EmailLocalPart
	var handle domain.MailboxHandle
	err := o.cfg.Retry.Do(ctx, o.deps.Clock, func(ctx context.Context) error {
		o.mu.Lock()
		o.state.Attempts.Mailbox++
		o.mu.Unlock()

		var provErr error
		handle, provErr = o.deps.Mailboxes.Provision(ctx, hint)
		return provErr
	})
	if err != nil {
		return failRun(domain.FailureMailboxProvision, fmt.Errorf("provision mailbox: %w", err))
	}

	res.mailbox = handle
	o.mu.Lock()
	o.state.Mailbox = handle
	o.mu.Unlock()

	ctxlog.FromContext(ctx).Info("mailbox provisioned",
		"run_id", o.state.RunID,
		"address", handle.ForwardingAddress)
	o.setStage(domain.StageMailboxProvisioned)
	return nil
}

// MailboxProvisioned -> FormFilled: open the session if needed, navigate to
// the registration form, and fill the identity fields.
func (o *Orchestrator) fillForm(ctx context.Context, res *runResources) *runError {
	if res.session == nil {
		session, err := o.deps.Launcher.Open(ctx, o.cfg.Browser)
		if err != nil {
			return failRun(domain.FailureBrowserLaunch, fmt.Errorf("open browser session: %w", err))
		}
		res.session = session
	}

	navErr := o.cfg.Retry.Do(ctx, o.deps.Clock, func(ctx context.Context) error {
		o.mu.Lock()
		o.state.Attempts.Navigation++
		o.mu.Unlock()
		return res.session.Navigate(ctx, o.cfg.RegisterURL, o.cfg.NavTimeout)
	})
	if navErr != nil {
		return o.pageFailure("navigate to registration form", navErr)
	}

	sel := o.cfg.Selectors
	identity := o.state.Identity
	fields := []struct {
		selector string
		value    string
	}{
		{sel.FirstName, identity.FirstName},
		{sel.LastName, identity.LastName},
		{sel.Email, res.mailbox.ForwardingAddress},
		{sel.Company, identity.Company},
		{sel.Password, identity.Password},
		{sel.PasswordConfirm, identity.Password},
	}
	for _, field := range fields {
		if field.value == "" {
			continue
		}
		if err := res.session.Fill(ctx, field.selector, field.value); err != nil {
			return o.pageFailure(fmt.Sprintf("fill %s", field.selector), err)
		}
	}

	o.setStage(domain.StageFormFilled)
	return nil
}

// FormFilled -> CaptchaPending or straight to CaptchaSolved when no
// challenge is present after a short probe.
func (o *Orchestrator) probeCaptcha(ctx context.Context, res *runResources) *runError {
	err := res.session.WaitForSelector(ctx, o.cfg.Selectors.CaptchaFrame, o.cfg.CaptchaProbeTimeout)
	if err == nil {
		o.setStage(domain.StageCaptchaPending)
		return nil
	}
	if errors.Is(err, domain.ErrElementNotFound) {
		ctxlog.FromContext(ctx).Info("no captcha challenge present", "run_id", o.state.RunID)
		o.setStage(domain.StageCaptchaSolved)
		return nil
	}
	return o.pageFailure("probe captcha", err)
}

// CaptchaPending -> CaptchaSolved: bounded audio-transcription sub-loop.
func (o *Orchestrator) solveCaptcha(ctx context.Context, res *runResources) *runError {
	log := ctxlog.FromContext(ctx)
	sel := o.cfg.Selectors

	if err := res.session.Click(ctx, sel.CaptchaAudioButton); err != nil {
		return o.pageFailure("switch captcha to audio", err)
	}

	for attempt := 1; attempt <= o.cfg.MaxCaptchaAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return failRun(domain.FailureCaptchaExhausted, err)
		}

		o.mu.Lock()
		o.state.Attempts.Captcha++
		o.mu.Unlock()

		audioURL, err := res.session.ExtractAttr(ctx, sel.CaptchaAudioSource, "src")
		if err != nil {
			return o.pageFailure("locate captcha audio source", err)
		}
		challenge := domain.CaptchaChallenge{AudioURL: audioURL, Attempt: attempt}

		result, err := o.deps.Transcriber.Transcribe(ctx, challenge.AudioURL)
		if err != nil {
			class := domain.ClassOf(err)
			if class == domain.ClassCaptchaRejected || class == domain.ClassTransient || class == domain.ClassTimeout {
				log.Warn("captcha transcription failed",
					"run_id", o.state.RunID,
					"attempt", attempt,
					"error", err)
				o.recordError(err)
				continue
			}
			return failRun(domain.FailureCaptchaExhausted, fmt.Errorf("transcribe captcha audio: %w", err))
		}

		if err := res.session.Fill(ctx, sel.CaptchaInput, result.Text); err != nil {
			return o.pageFailure("fill captcha answer", err)
		}
		if err := res.session.Click(ctx, sel.CaptchaVerify); err != nil {
			return o.pageFailure("verify captcha answer", err)
		}

		token, err := res.session.ExtractAttr(ctx, sel.CaptchaResponse, "value")
		if err == nil && strings.TrimSpace(token) != "" {
			log.Info("captcha solved",
				"run_id", o.state.RunID,
				"attempt", attempt,
				"backend", result.Backend,
				"confidence", result.Confidence)
			o.setStage(domain.StageCaptchaSolved)
			return nil
		}

		log.Warn("captcha answer rejected",
			"run_id", o.state.RunID,
			"attempt", attempt,
			"answer", result.Text)
		o.recordError(domain.Classified(domain.ClassCaptchaRejected, fmt.Errorf("captcha answer %q rejected", result.Text)))
	}

	return failRun(domain.FailureCaptchaExhausted,
		fmt.Errorf("captcha not solved after %d attempts", o.cfg.MaxCaptchaAttempts))
}

// CaptchaSolved -> Submitted, or back to Init when the page rejects the
// identity. Rejections unrelated to the identity get a cooldown and a
// bounded resubmit.
func (o *Orchestrator) submitForm(ctx context.Context, res *runResources) *runError {
	log := ctxlog.FromContext(ctx)
	sel := o.cfg.Selectors

	for attempt := 1; attempt <= o.cfg.MaxSubmitAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return failRun(domain.FailureSubmissionRejected, err)
		}

		o.mu.Lock()
		o.state.Attempts.Submission++
		o.mu.Unlock()

		if err := res.session.Click(ctx, sel.Submit); err != nil {
			return o.pageFailure("click submit", err)
		}
		if err := o.deps.Clock.Sleep(ctx, o.cfg.SubmitSettle); err != nil {
			return failRun(domain.FailureSubmissionRejected, err)
		}

		current, err := res.session.CurrentURL(ctx)
		if err != nil {
			return o.pageFailure("read current url", err)
		}
		if !strings.Contains(strings.ToLower(current), "signup") {
			log.Info("form submitted", "run_id", o.state.RunID, "url", current)
			o.setStage(domain.StageSubmitted)
			return nil
		}

		message, extractErr := res.session.ExtractText(ctx, sel.ValidationError)
		if extractErr == nil && identityRejection(message) {
			return o.replaceIdentity(ctx, res, message)
		}

		reason := strings.TrimSpace(message)
		if reason == "" {
			reason = "still on signup page"
		}
		log.Warn("submission rejected, cooling down",
			"run_id", o.state.RunID,
			"attempt", attempt,
			"reason", reason)
		o.recordError(fmt.Errorf("submission rejected: %s", reason))

		if attempt < o.cfg.MaxSubmitAttempts {
			if err := o.deps.Clock.Sleep(ctx, o.cfg.SubmitCooldown); err != nil {
				return failRun(domain.FailureSubmissionRejected, err)
			}
		}
	}

	return failRun(domain.FailureSubmissionRejected,
		fmt.Errorf("form not accepted after %d attempts", o.cfg.MaxSubmitAttempts))
}

// identityRejection reports whether a validation message blames the
// submitted identity rather than the request itself.
func identityRejection(message string) bool {
	lowered := strings.ToLower(message)
	if lowered == "" {
		return false
	}
	for _, marker := range []string{"already been taken", "already taken", "already exists", "already in use", "is invalid"} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// replaceIdentity releases the rejected identity's mailbox and loops the
// machine back to Init, bounded by MaxIdentityAttempts.
func (o *Orchestrator) replaceIdentity(ctx context.Context, res *runResources, reason string) *runError {
	o.recordError(domain.Classified(domain.ClassValidation, fmt.Errorf("identity rejected: %s", strings.TrimSpace(reason))))

	if o.Status().Attempts.Identity >= o.cfg.MaxIdentityAttempts {
		return failRun(domain.FailureIdentityExhausted,
			fmt.Errorf("identity rejected after %d attempts: %s", o.Status().Attempts.Identity, strings.TrimSpace(reason)))
	}

	ctxlog.FromContext(ctx).Info("identity rejected, requesting a fresh one",
		"run_id", o.state.RunID,
		"reason", strings.TrimSpace(reason))

	o.releaseMailbox(ctx, res)
	o.mu.Lock()
	o.state.Identity = domain.Identity{}
	o.state.Mailbox = domain.MailboxHandle{}
	o.mu.Unlock()

	o.setStage(domain.StageInit)
	return nil
}

// AwaitingConfirmation -> ConfirmationFollowed: poll the inbox, then follow
// the link and sign in when the page asks for credentials.
func (o *Orchestrator) followConfirmation(ctx context.Context, res *runResources) *runError {
	o.mu.Lock()
	o.state.Attempts.Confirmation++
	mailbox := o.state.Mailbox
	identity := o.state.Identity
	o.mu.Unlock()

	message, err := o.deps.Inbox.AwaitMessage(ctx, mailbox, o.confirmationMatcher(), o.cfg.ConfirmDeadline)
	if err != nil {
		return failRun(domain.FailureConfirmationTimeout, err)
	}
	ctxlog.FromContext(ctx).Info("confirmation message received",
		"run_id", o.state.RunID,
		"subject", message.RawSubject)

	if err := res.session.Navigate(ctx, message.LinkURL, o.cfg.NavTimeout); err != nil {
		return o.pageFailure("follow confirmation link", err)
	}

	sel := o.cfg.Selectors
	if err := res.session.WaitForSelector(ctx, sel.LoginPassword, o.cfg.CaptchaProbeTimeout); err == nil {
		if fillErr := res.session.Fill(ctx, sel.LoginEmail, mailbox.ForwardingAddress); fillErr != nil &&
			!errors.Is(fillErr, domain.ErrElementNotFound) {
			return o.pageFailure("fill login email", fillErr)
		}
		if fillErr := res.session.Fill(ctx, sel.LoginPassword, identity.Password); fillErr != nil {
			return o.pageFailure("fill login password", fillErr)
		}
		if clickErr := res.session.Click(ctx, sel.LoginSubmit); clickErr != nil {
			return o.pageFailure("submit login", clickErr)
		}
	}

	o.setStage(domain.StageConfirmationFollowed)
	return nil
}

// ConfirmationFollowed -> LabStarted.
func (o *Orchestrator) startLab(ctx context.Context, res *runResources) *runError {
	navErr := o.cfg.Retry.Do(ctx, o.deps.Clock, func(ctx context.Context) error {
		o.mu.Lock()
		o.state.Attempts.Navigation++
		o.mu.Unlock()
		return res.session.Navigate(ctx, o.cfg.LabURL, o.cfg.NavTimeout)
	})
	if navErr != nil {
		return o.pageFailure("navigate to lab", navErr)
	}

	if err := res.session.Click(ctx, o.cfg.Selectors.StartLab); err != nil {
		return o.pageFailure("start lab", err)
	}

	ctxlog.FromContext(ctx).Info("lab started", "run_id", o.state.RunID)
	o.setStage(domain.StageLabStarted)
	return nil
}

// LabStarted -> ArtifactExtracted. A missing artifact element means the page
// no longer matches expectations; retrying cannot change that.
func (o *Orchestrator) extractArtifact(ctx context.Context, res *runResources) *runError {
	artifact, err := res.session.ExtractText(ctx, o.cfg.Selectors.Artifact)
	if err != nil {
		return o.pageFailure("extract artifact", err)
	}
	artifact = strings.TrimSpace(artifact)
	if artifact == "" {
		return failRun(domain.FailurePageStructureMismatch,
			fmt.Errorf("artifact element %q is empty", o.cfg.Selectors.Artifact))
	}

	o.mu.Lock()
	o.artifact = artifact
	o.mu.Unlock()
	o.setStage(domain.StageArtifactExtracted)
	return nil
}

// persistAccount records the successful registration. Persistence failures
// do not fail the run; the artifact is already in the result.
func (o *Orchestrator) persistAccount(ctx context.Context, res *runResources) {
	if o.deps.Accounts == nil {
		return
	}

	o.mu.Lock()
	account := domain.RegisteredAccount{
		Email:        o.state.Mailbox.ForwardingAddress,
		Password:     o.state.Identity.Password,
		FirstName:    o.state.Identity.FirstName,
		LastName:     o.state.Identity.LastName,
		Country:      o.state.Identity.Country,
		APIKey:       o.artifact,
		RegisteredAt: o.deps.Clock.Now(),
	}
	o.mu.Unlock()

	if err := o.deps.Accounts.Save(ctx, account); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to persist registered account",
			"run_id", o.state.RunID,
			"error", err)
	}
}

func (o *Orchestrator) confirmationMatcher() MessageMatcher {
	subject := strings.ToLower(o.cfg.ConfirmSubject)
	sender := strings.ToLower(o.cfg.ConfirmSender)
	return func(m domain.MessageSummary) bool {
		if m.LinkURL == "" {
			return false
		}
		if subject == "" && sender == "" {
			return true
		}
		if subject != "" && strings.Contains(strings.ToLower(m.Subject), subject) {
			return true
		}
		return sender != "" && strings.Contains(strings.ToLower(m.From), sender)
	}
}

// pageFailure maps a browser error onto the failure taxonomy.
func (o *Orchestrator) pageFailure(action string, err error) *runError {
	wrapped := fmt.Errorf("%s: %w", action, err)
	switch domain.ClassOf(err) {
	case domain.ClassContractBroken:
		return failRun(domain.FailurePageStructureMismatch, wrapped)
	case domain.ClassTimeout, domain.ClassTransient:
		return failRun(domain.FailureResourceTimeout, wrapped)
	default:
		return failRun(domain.FailurePageStructureMismatch, wrapped)
	}
}

func (o *Orchestrator) stage() domain.Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Stage
}

func (o *Orchestrator) setStage(stage domain.Stage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Stage = stage
}

func (o *Orchestrator) recordError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.LastError = err.Error()
}

func (o *Orchestrator) finish(outcome domain.Outcome, category domain.FailureCategory, err error) domain.RunResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	endedIn := o.state.Stage
	if err != nil {
		o.state.LastError = err.Error()
	}
	switch outcome {
	case domain.OutcomeSuccess:
		o.state.Stage = domain.StageDone
	case domain.OutcomeCancelled:
		o.state.Stage = domain.StageCancelled
	default:
		o.state.Stage = domain.StageFailed
	}

	return domain.RunResult{
		Outcome:  outcome,
		Artifact: o.artifact,
		Category: category,
		Trace: domain.Trace{
			Stage:     endedIn,
			Attempts:  o.state.Attempts,
			LastError: o.state.LastError,
			StartedAt: o.state.StartedAt,
			EndedAt:   o.deps.Clock.Now(),
		},
	}
}

// captureFailure saves a screenshot of the failing page when configured.
func (o *Orchestrator) captureFailure(ctx context.Context, res *runResources) {
	if o.cfg.ScreenshotDir == "" || res.session == nil {
		return
	}

	shot, err := res.session.Screenshot(context.WithoutCancel(ctx))
	if err != nil || len(shot) == 0 {
		return
	}

	name := fmt.Sprintf("run-%s-%s.png", o.state.RunID, o.deps.Clock.Now().Format("20060102-150405"))
	path := filepath.Join(o.cfg.ScreenshotDir, name)
	if writeErr := os.WriteFile(path, shot, 0o600); writeErr != nil {
		ctxlog.FromContext(ctx).Warn("failed to save failure screenshot", "error", writeErr)
		return
	}
	ctxlog.FromContext(ctx).Info("saved failure screenshot", "path", path)
}

// release closes the browser session and deactivates the mailbox. Uses a
// detached context so cleanup still runs after cancellation.
func (o *Orchestrator) release(ctx context.Context, res *runResources) {
	if res.session != nil {
		if err := res.session.Close(); err != nil {
			ctxlog.FromContext(ctx).Warn("failed to close browser session", "error", err)
		}
		res.session = nil
	}
	o.releaseMailbox(ctx, res)
}

func (o *Orchestrator) releaseMailbox(ctx context.Context, res *runResources) {
	if res.mailbox.IsZero() {
		return
	}

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := o.deps.Mailboxes.Deactivate(releaseCtx, res.mailbox); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to deactivate mailbox",
			"address", res.mailbox.ForwardingAddress,
			"error", err)
	}
	res.mailbox = domain.MailboxHandle{}
}
