package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dstn-dev/autoenroll/internal/adapters/browser/chromium"
	"github.com/dstn-dev/autoenroll/internal/adapters/captcha"
	"github.com/dstn-dev/autoenroll/internal/adapters/identity/randomuser"
	"github.com/dstn-dev/autoenroll/internal/adapters/inbox/gmailrest"
	"github.com/dstn-dev/autoenroll/internal/adapters/mailbox/relay"
	"github.com/dstn-dev/autoenroll/internal/adapters/render/report"
	tomlrepo "github.com/dstn-dev/autoenroll/internal/adapters/repo/toml"
	"github.com/dstn-dev/autoenroll/internal/application"
	"github.com/dstn-dev/autoenroll/internal/domain"
	"github.com/dstn-dev/autoenroll/internal/ports"
)

type app struct {
	cfg  *viper.Viper
	repo *tomlrepo.Repository

	identities  *randomuser.Client
	mailboxes   *relay.Client
	inbox       ports.InboxClient
	transcriber ports.Transcriber
	launcher    ports.BrowserLauncher
	clock       ports.Clock

	resultRenderer   func(domain.RunResult, report.RenderOptions) string
	accountsRenderer func([]domain.RegisteredAccount, report.RenderOptions) string
	now              func() time.Time
}

func wireApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	repo, err := tomlrepo.NewRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire account repository: %w", err)
	}

	identities := &randomuser.Client{
		BaseURL:     cfg.GetString("identity.base_url"),
		Nationality: cfg.GetString("identity.nationality"),
	}
	mailboxes := &relay.Client{
		BaseURL: cfg.GetString("relay.base_url"),
		APIKey:  cfg.GetString("relay.api_key"),
	}
	inbox := &gmailrest.Client{
		BaseURL: cfg.GetString("inbox.base_url"),
		Token:   gmailrest.StaticToken(cfg.GetString("inbox.access_token")),
	}

	return &app{
		cfg:              cfg,
		repo:             repo,
		identities:       identities,
		mailboxes:        mailboxes,
		inbox:            inbox,
		transcriber:      wireTranscriber(cfg),
		launcher:         &chromium.Launcher{ExecPath: cfg.GetString("browser.exec_path")},
		clock:            ports.SystemClock{},
		resultRenderer:   report.RenderResult,
		accountsRenderer: report.RenderAccounts,
		now:              time.Now,
	}, nil
}

func loadConfig() (*viper.Viper, error) {
	cfg := viper.New()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	cfg.SetConfigName("config")
	cfg.SetConfigType("toml")
	cfg.AddConfigPath(filepath.Join(homeDir, ".autoenroll"))
	cfg.SetEnvPrefix("AE")
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	cfg.SetDefault("target.register_url", "https://www.cloudskillsboost.google/users/sign_up")
	cfg.SetDefault("target.lab_url", "")
	cfg.SetDefault("target.confirm_subject", "Welcome to Google Cloud Skills Boost")
	cfg.SetDefault("target.confirm_sender", "cloudskillsboost.google")
	cfg.SetDefault("browser.headless", true)
	cfg.SetDefault("identity.nationality", "us")
	cfg.SetDefault("run.confirm_deadline", "3m")
	cfg.SetDefault("run.parallel", 2)

	if err := cfg.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return cfg, nil
}

func wireTranscriber(cfg *viper.Viper) ports.Transcriber {
	engine := &captcha.Engine{MinConfidence: cfg.GetFloat64("captcha.min_confidence")}
	if key := cfg.GetString("captcha.google_key"); key != "" {
		engine.Backends = append(engine.Backends, &captcha.GoogleSpeechBackend{APIKey: key})
	}
	if token := cfg.GetString("captcha.wit_token"); token != "" {
		engine.Backends = append(engine.Backends, &captcha.WitBackend{Token: token})
	}
	return engine
}

func (a *app) orchestratorConfig() application.OrchestratorConfig {
	return application.OrchestratorConfig{
		RegisterURL: a.cfg.GetString("target.register_url"),
		LabURL:      a.cfg.GetString("target.lab_url"),
		Browser: ports.BrowserConfig{
			Headless:  a.cfg.GetBool("browser.headless"),
			UserAgent: a.cfg.GetString("browser.user_agent"),
			OpTimeout: a.cfg.GetDuration("browser.op_timeout"),
		},
		NavTimeout:          a.cfg.GetDuration("run.nav_timeout"),
		ConfirmDeadline:     a.cfg.GetDuration("run.confirm_deadline"),
		SubmitCooldown:      a.cfg.GetDuration("run.submit_cooldown"),
		MaxIdentityAttempts: a.cfg.GetInt("run.max_identity_attempts"),
		MaxCaptchaAttempts:  a.cfg.GetInt("run.max_captcha_attempts"),
		MaxSubmitAttempts:   a.cfg.GetInt("run.max_submit_attempts"),
		ConfirmSubject:      a.cfg.GetString("target.confirm_subject"),
		ConfirmSender:       a.cfg.GetString("target.confirm_sender"),
		ScreenshotDir:       a.cfg.GetString("run.screenshot_dir"),
	}
}

// runnerFactory builds one orchestrator per run slot. Runs share adapters
// but never state.
func (a *app) runnerFactory(cfg application.OrchestratorConfig) application.RunnerFactory {
	poller := application.NewInboxPoller(a.inbox, a.clock, cfg.Poll)
	return func() application.Runner {
		return application.NewOrchestrator(cfg, application.OrchestratorDeps{
			Launcher:    a.launcher,
			Identities:  a.identities,
			Mailboxes:   a.mailboxes,
			Transcriber: a.transcriber,
			Inbox:       poller,
			Accounts:    a.repo,
			Clock:       a.clock,
		})
	}
}
