package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomyan/foxtrot/internal/bidi"
	"github.com/tomyan/foxtrot/internal/config"
	"github.com/tomyan/foxtrot/internal/logging"
	"github.com/tomyan/foxtrot/internal/marionette"
	"github.com/tomyan/foxtrot/internal/session"
)

var (
	_ session.Driver = (*marionette.Client)(nil)
	_ session.Driver = (*bidi.Client)(nil)
)

const startBrowserHint = "Please start a marionette enabled browser"

// flagValues holds the global flags before they are layered over the file
// and environment.
type flagValues struct {
	transport     string
	host          string
	port          int
	bidiPort      int
	timeout       time.Duration
	interval      time.Duration
	maxAttempts   int
	retryInterval time.Duration
	requireTor    bool
	firefoxPath   string
	logLevel      string
	output        string
}

type app struct {
	env *Env
	cfg *config.Config
	fv  flagValues

	hintOnce sync.Once
	manager  *session.Manager
}

func newApp(env *Env) *app {
	if env.Getenv == nil {
		env.Getenv = func(string) string { return "" }
	}
	if env.Stdin == nil {
		env.Stdin = strings.NewReader("")
	}
	return &app{env: env, cfg: config.Default()}
}

func (a *app) close() {
	if a.manager != nil {
		a.manager.Close()
	}
}

func newRootCmd(a *app) *cobra.Command {
	def := config.Default()
	root := &cobra.Command{
		Use:           "foxtrot",
		Short:         "Drive a Marionette or WebDriver BiDi enabled Firefox",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.resolveConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.fv.transport, "transport", def.Transport, "Protocol: marionette or bidi (env: FOXTROT_TRANSPORT)")
	pf.StringVar(&a.fv.host, "host", def.Host, "Browser host (env: FOXTROT_HOST)")
	pf.IntVar(&a.fv.port, "port", def.Port, "Marionette port (env: FOXTROT_PORT)")
	pf.IntVar(&a.fv.bidiPort, "bidi-port", def.BiDiPort, "WebDriver BiDi port (env: FOXTROT_BIDI_PORT)")
	pf.DurationVar(&a.fv.timeout, "timeout", def.Timeout, "Command timeout, 0 for none (env: FOXTROT_TIMEOUT)")
	pf.DurationVar(&a.fv.interval, "interval", def.Interval, "Pause between lookups while waiting (env: FOXTROT_INTERVAL)")
	pf.IntVar(&a.fv.maxAttempts, "max-attempts", def.MaxAttempts, "Connect attempts, 0 retries forever (env: FOXTROT_MAX_ATTEMPTS)")
	pf.DurationVar(&a.fv.retryInterval, "retry-interval", def.RetryInterval, "Pause between connect attempts (env: FOXTROT_RETRY_INTERVAL)")
	pf.BoolVar(&a.fv.requireTor, "require-tor", false, "Fail unless the browser's Tor status matches (env: FOXTROT_REQUIRE_TOR)")
	pf.StringVar(&a.fv.firefoxPath, "firefox", def.FirefoxPath, "Firefox binary for launch (env: FOXTROT_FIREFOX)")
	pf.StringVar(&a.fv.logLevel, "log-level", def.LogLevel, "Log level: error, warn, info, debug (env: FOXTROT_LOG_LEVEL)")
	pf.StringVarP(&a.fv.output, "output", "o", def.Output, "Output format: json, ndjson, text (env: FOXTROT_OUTPUT)")

	root.AddCommand(
		newConnectCmd(a),
		newFindCmd(a),
		newWaitCmd(a),
		newGotoCmd(a),
		newTypeCmd(a),
		newKeysCmd(a),
		newSourceCmd(a),
		newGetJSONCmd(a),
		newIsTorCmd(a),
		newCookiesCmd(a),
		newAlertCmd(a),
		newQuitCmd(a),
		newLaunchCmd(a),
		newCallCmd(a),
		newPipeCmd(a),
		newVersionCmd(a),
	)
	return root
}

// resolveConfig layers defaults < config file < environment < explicit flags.
func (a *app) resolveConfig(cmd *cobra.Command) error {
	cfg := config.Default()

	paths := a.env.ConfigPaths
	if paths == nil {
		paths = config.SearchPaths()
	}
	if _, err := config.LoadFile(cfg, paths...); err != nil {
		return err
	}
	if err := config.ApplyEnv(cfg, a.env.Getenv); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Transport = a.fv.transport
	}
	if flags.Changed("host") {
		cfg.Host = a.fv.host
	}
	if flags.Changed("port") {
		cfg.Port = a.fv.port
	}
	if flags.Changed("bidi-port") {
		cfg.BiDiPort = a.fv.bidiPort
	}
	if flags.Changed("timeout") {
		cfg.Timeout = a.fv.timeout
	}
	if flags.Changed("interval") {
		cfg.Interval = a.fv.interval
	}
	if flags.Changed("max-attempts") {
		cfg.MaxAttempts = a.fv.maxAttempts
	}
	if flags.Changed("retry-interval") {
		cfg.RetryInterval = a.fv.retryInterval
	}
	if flags.Changed("require-tor") {
		v := a.fv.requireTor
		cfg.RequireTor = &v
	}
	if flags.Changed("firefox") {
		cfg.FirefoxPath = a.fv.firefoxPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.fv.logLevel
	}
	if flags.Changed("output") {
		cfg.Output = a.fv.output
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Output = a.env.Stderr
	logging.Init(logCfg)

	a.cfg = cfg
	return nil
}

func (a *app) dial(ctx context.Context) (session.Driver, error) {
	if a.env.Dial != nil {
		return a.env.Dial(ctx, a.cfg)
	}
	port := a.cfg.ConnectPort()
	if a.cfg.Transport == config.TransportBiDi {
		c, err := bidi.Dial(ctx, a.cfg.Host, port)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	c, err := marionette.Dial(ctx, a.cfg.Host, port)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// showHint prints the start-browser hint the first time a connect fails.
func (a *app) showHint(st session.ConnectStatus) {
	if !st.First {
		return
	}
	a.hintOnce.Do(func() {
		fmt.Fprintln(a.env.Stderr, startBrowserHint)
	})
}

func (a *app) sessionManager() *session.Manager {
	if a.manager != nil {
		return a.manager
	}
	a.manager = session.NewManager(a.dial,
		session.WithRetryPolicy(session.RetryPolicy{
			MaxAttempts: a.cfg.MaxAttempts,
			Interval:    a.cfg.RetryInterval,
		}),
		session.WithStatusFunc(a.showHint),
	)
	return a.manager
}

func (a *app) commandContext() (context.Context, context.CancelFunc) {
	if a.cfg.Timeout > 0 {
		return context.WithTimeout(context.Background(), a.cfg.Timeout)
	}
	return context.WithCancel(context.Background())
}

// withSession connects (or reuses the connection), runs fn and prints its
// result.
func (a *app) withSession(fn func(ctx context.Context, s *session.Session) (interface{}, error)) error {
	ctx, cancel := a.commandContext()
	defer cancel()

	s, err := a.sessionManager().GetOrCreate(ctx, a.cfg.RequireTor)
	if err != nil {
		if errors.Is(err, session.ErrIdentityMismatch) {
			return err
		}
		return &exitError{code: ExitConnFailed, err: err}
	}

	result, err := fn(ctx, s)
	if err != nil {
		return err
	}
	return outputResult(a.env.Stdout, a.cfg.Output, result)
}
