package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomyan/foxtrot/internal/config"
	"github.com/tomyan/foxtrot/internal/launcher"
	"github.com/tomyan/foxtrot/internal/session"
	"github.com/tomyan/foxtrot/internal/webdriver"
)

// capabilitiesReader is implemented by both protocol clients.
type capabilitiesReader interface {
	Capabilities() webdriver.Capabilities
}

func newConnectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect to the browser and describe it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(ctx context.Context, s *session.Session) (interface{}, error) {
				d := s.Driver()
				result := ConnectResult{
					Transport: a.cfg.Transport,
					Address:   net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.ConnectPort())),
					ProcessID: d.ProcessID(),
				}
				if cr, ok := d.(capabilitiesReader); ok {
					caps := cr.Capabilities()
					result.BrowserName = caps.BrowserName
					result.BrowserVersion = caps.BrowserVersion
				}
				return result, nil
			})
		},
	}
}

var signals = map[string]os.Signal{
	"INT":  os.Interrupt,
	"TERM": syscall.SIGTERM,
	"KILL": os.Kill,
}

// gracefulQuitter asks the browser to shut itself down. Only Marionette
// offers this.
type gracefulQuitter interface {
	Quit(ctx context.Context) error
}

func newQuitCmd(a *app) *cobra.Command {
	var (
		signal   string
		graceful bool
	)
	cmd := &cobra.Command{
		Use:   "quit",
		Short: "Signal the browser process to exit",
		Long: `Send a signal to the browser process found in the session capabilities.
With --graceful the browser is asked to quit over Marionette instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimPrefix(strings.ToUpper(signal), "SIG")
			sig, ok := signals[name]
			if !ok {
				return fmt.Errorf("unknown signal %q (want INT, TERM or KILL)", signal)
			}
			return a.withSession(func(ctx context.Context, s *session.Session) (interface{}, error) {
				pid := s.Driver().ProcessID()
				if graceful {
					q, ok := s.Driver().(gracefulQuitter)
					if !ok {
						return nil, fmt.Errorf("transport %s cannot quit the browser: %w", a.cfg.Transport, webdriver.ErrUnsupported)
					}
					if err := q.Quit(ctx); err != nil {
						return nil, err
					}
					return QuitResult{PID: pid, Signal: "quit"}, nil
				}
				if err := s.Quit(sig); err != nil {
					return nil, err
				}
				return QuitResult{PID: pid, Signal: "SIG" + name}, nil
			})
		},
	}
	cmd.Flags().StringVar(&signal, "signal", "INT", "Signal to send: INT, TERM or KILL")
	cmd.Flags().BoolVar(&graceful, "graceful", false, "Ask the browser to quit instead of signalling it")
	return cmd
}

func newLaunchCmd(a *app) *cobra.Command {
	var (
		headless bool
		profile  string
		relaunch bool
	)
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Start Firefox with Marionette enabled",
		Long: `Start Firefox with Marionette enabled on --port, and WebDriver BiDi on
--bidi-port when the transport is bidi. Without --profile a fresh temporary
profile is used and left behind for the browser.

--relaunch instead quits the user's running Firefox and starts it again on
its own profile with Marionette enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remotePort := 0
			if a.cfg.Transport == config.TransportBiDi {
				remotePort = a.cfg.BiDiPort
			}

			if relaunch {
				err := launcher.RelaunchUserFirefox(launcher.RelaunchOptions{
					MarionettePort: a.cfg.Port,
					RemotePort:     remotePort,
					FirefoxPath:    a.cfg.FirefoxPath,
				})
				if err != nil {
					return err
				}
				return outputResult(a.env.Stdout, a.cfg.Output, LaunchResult{
					MarionettePort: a.cfg.Port,
					RemotePort:     remotePort,
					Relaunched:     true,
				})
			}

			inst, err := launcher.Launch(launcher.LaunchOptions{
				FirefoxPath:    a.cfg.FirefoxPath,
				MarionettePort: a.cfg.Port,
				RemotePort:     remotePort,
				Headless:       headless || a.cfg.Headless,
				ProfileDir:     profile,
				StartupTimeout: a.cfg.Timeout,
			})
			if err != nil {
				return err
			}
			return outputResult(a.env.Stdout, a.cfg.Output, LaunchResult{
				PID:            inst.PID,
				MarionettePort: inst.MarionettePort,
				RemotePort:     inst.RemotePort,
				ProfileDir:     inst.ProfileDir,
			})
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "Run without a window (env: FOXTROT_HEADLESS)")
	cmd.Flags().StringVar(&profile, "profile", "", "Profile directory to use")
	cmd.Flags().BoolVar(&relaunch, "relaunch", false, "Restart the user's Firefox with Marionette enabled")
	return cmd
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the foxtrot version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return outputResult(a.env.Stdout, a.cfg.Output, VersionResult{Version: Version})
		},
	}
}
