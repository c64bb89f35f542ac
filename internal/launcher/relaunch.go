package launcher

import (
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"time"
)

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(name string, args ...string) ([]byte, error)
	Start(name string, args ...string) error // launches a process without waiting for it to exit
}

// DefaultCommandRunner executes commands via os/exec.
type DefaultCommandRunner struct{}

// Run executes a command and returns its combined output.
func (d DefaultCommandRunner) Run(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Start launches a process in the background without waiting for it to exit.
// Stdout and stderr are discarded.
func (d DefaultCommandRunner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Start()
}

const defaultQuitTimeoutMs = 5000

// processName is what pgrep/pkill match on for a running Firefox.
const processName = "firefox"

// quitFirefox asks a running Firefox to exit with SIGTERM and falls back to
// SIGKILL once maxWaitMs elapses. Returns immediately if none is running.
func quitFirefox(runner CommandRunner, maxWaitMs int) error {
	name := processName
	if _, err := runner.Run("pgrep", "-x", name); err != nil {
		return nil // not running
	}

	runner.Run("pkill", "-TERM", "-x", name)

	deadline := time.Now().Add(time.Duration(maxWaitMs) * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := runner.Run("pgrep", "-x", name); err != nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	runner.Run("pkill", "-KILL", "-x", name)
	return nil
}

// relaunchFirefox starts Firefox on the user's default profile with
// Marionette enabled.
func relaunchFirefox(runner CommandRunner, firefoxPath string, remotePort int) error {
	args := []string{"-marionette"}
	if remotePort != 0 {
		args = append(args, "--remote-debugging-port", strconv.Itoa(remotePort))
	}
	if err := runner.Start(firefoxPath, args...); err != nil {
		return fmt.Errorf("failed to launch Firefox: %w", err)
	}
	return nil
}

// RelaunchOptions configures the relaunch behaviour.
type RelaunchOptions struct {
	MarionettePort int           // Port to wait on (default 2828)
	RemotePort     int           // Also enable WebDriver BiDi on this port when non-zero
	FirefoxPath    string        // Path to Firefox binary (auto-detected if empty)
	GOOS           string        // Override runtime.GOOS for testing
	Runner         CommandRunner // Override command runner for testing
	WaitFunc       func() error  // Override wait-for-port for testing
}

// RelaunchUserFirefox quits the user's Firefox and starts it again with
// Marionette enabled, keeping their profile, tabs and extensions.
func RelaunchUserFirefox(opts RelaunchOptions) error {
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	if goos != "darwin" && goos != "linux" {
		return fmt.Errorf("unsupported platform: %s", goos)
	}

	runner := opts.Runner
	if runner == nil {
		runner = DefaultCommandRunner{}
	}

	port := opts.MarionettePort
	if port == 0 {
		port = 2828
	}

	firefoxPath := opts.FirefoxPath
	if firefoxPath == "" {
		firefoxPath = FindFirefox("")
		if firefoxPath == "" {
			return fmt.Errorf("Firefox not found")
		}
	}

	if err := quitFirefox(runner, defaultQuitTimeoutMs); err != nil {
		return err
	}
	if err := relaunchFirefox(runner, firefoxPath, opts.RemotePort); err != nil {
		return err
	}

	if opts.WaitFunc != nil {
		return opts.WaitFunc()
	}
	return WaitForPort("localhost", port, 30*time.Second)
}
