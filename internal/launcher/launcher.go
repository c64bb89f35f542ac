// Package launcher provides Firefox discovery, launching, and lifecycle management.
package launcher

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LaunchOptions configures Firefox launching.
type LaunchOptions struct {
	FirefoxPath    string                 // Path to Firefox binary (auto-detected if empty)
	MarionettePort int                    // Marionette port (default 2828)
	RemotePort     int                    // WebDriver BiDi port, 0 to leave the remote agent off
	Headless       bool                   // Run in headless mode
	ProfileDir     string                 // Profile directory (temp dir created if empty)
	Prefs          map[string]interface{} // Extra prefs written to user.js
	StartupTimeout time.Duration          // How long to wait for the Marionette port (default 30s)
}

// Instance represents a running Firefox instance.
type Instance struct {
	cmd            *exec.Cmd
	MarionettePort int
	RemotePort     int
	PID            int
	ProfileDir     string
	ownsProfile    bool // true if we created the profile dir and should clean it up
}

// FindFirefox locates Firefox on the system. If firefoxPath is non-empty and exists,
// it is returned directly. Otherwise, searches PATH and known install locations.
func FindFirefox(firefoxPath string) string {
	if firefoxPath != "" {
		if _, err := os.Stat(firefoxPath); err == nil {
			return firefoxPath
		}
		return ""
	}

	// Check PATH first
	for _, name := range []string{"firefox", "firefox-esr", "tor-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	// Check known locations
	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = []string{
			"/Applications/Firefox.app/Contents/MacOS/firefox",
			"/Applications/Firefox Developer Edition.app/Contents/MacOS/firefox",
			"/Applications/Tor Browser.app/Contents/MacOS/firefox",
		}
	case "linux":
		paths = []string{
			"/usr/bin/firefox",
			"/usr/bin/firefox-esr",
			"/usr/lib/firefox/firefox",
			"/snap/bin/firefox",
		}
	case "windows":
		paths = []string{
			`C:\Program Files\Mozilla Firefox\firefox.exe`,
			`C:\Program Files (x86)\Mozilla Firefox\firefox.exe`,
		}
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// IsPortOpen checks if a TCP port is accepting connections.
func IsPortOpen(host string, port int) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// WaitForPort waits for a TCP port to become available.
func WaitForPort(host string, port int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s", net.JoinHostPort(host, strconv.Itoa(port)))
		case <-ticker.C:
			if IsPortOpen(host, port) {
				return nil
			}
		}
	}
}

// WriteUserPrefs writes a user.js into profileDir that enables Marionette on
// port plus any extra prefs. Keys are written in sorted order.
func WriteUserPrefs(profileDir string, port int, extra map[string]interface{}) error {
	prefs := map[string]interface{}{
		"marionette.port":                            port,
		"browser.shell.checkDefaultBrowser":          false,
		"browser.startup.homepage_override.mstone":   "ignore",
		"datareporting.policy.dataSubmissionEnabled": false,
		"toolkit.telemetry.reportingpolicy.firstRun": false,
	}
	for k, v := range extra {
		prefs[k] = v
	}

	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "user_pref(%q, %s);\n", k, prefLiteral(prefs[k]))
	}

	return os.WriteFile(filepath.Join(profileDir, "user.js"), []byte(b.String()), 0o644)
}

func prefLiteral(v interface{}) string {
	switch val := v.(type) {
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case string:
		return strconv.Quote(val)
	}
	return strconv.Quote(fmt.Sprint(v))
}

// Launch starts a Firefox instance with the given options.
func Launch(opts LaunchOptions) (*Instance, error) {
	firefoxPath := FindFirefox(opts.FirefoxPath)
	if firefoxPath == "" {
		return nil, fmt.Errorf("Firefox not found")
	}

	port := opts.MarionettePort
	if port == 0 {
		port = 2828
	}

	ownsProfile := false
	profileDir := opts.ProfileDir
	if profileDir == "" {
		var err error
		profileDir, err = os.MkdirTemp("", "foxtrot-firefox-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		ownsProfile = true
	}

	if err := WriteUserPrefs(profileDir, port, opts.Prefs); err != nil {
		if ownsProfile {
			os.RemoveAll(profileDir)
		}
		return nil, fmt.Errorf("writing user.js: %w", err)
	}

	cmd := exec.Command(firefoxPath, launchArgs(opts, profileDir)...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		if ownsProfile {
			os.RemoveAll(profileDir)
		}
		return nil, fmt.Errorf("failed to start Firefox: %w", err)
	}

	inst := &Instance{
		cmd:            cmd,
		MarionettePort: port,
		RemotePort:     opts.RemotePort,
		PID:            cmd.Process.Pid,
		ProfileDir:     profileDir,
		ownsProfile:    ownsProfile,
	}

	timeout := opts.StartupTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if err := WaitForPort("localhost", port, timeout); err != nil {
		inst.Stop()
		return nil, fmt.Errorf("Firefox failed to start: %w", err)
	}

	return inst, nil
}

func launchArgs(opts LaunchOptions, profileDir string) []string {
	args := []string{
		"-marionette",
		"-no-remote",
		"-new-instance",
		"-profile", profileDir,
	}
	if opts.RemotePort != 0 {
		args = append(args, "--remote-debugging-port", strconv.Itoa(opts.RemotePort))
	}
	if opts.Headless {
		args = append(args, "-headless")
	}
	return append(args, "about:blank")
}

// Stop terminates the Firefox instance and cleans up.
func (inst *Instance) Stop() error {
	if inst.cmd != nil && inst.cmd.Process != nil {
		inst.cmd.Process.Kill()
		inst.cmd.Wait()
		inst.cmd = nil
	}
	if inst.ownsProfile && inst.ProfileDir != "" {
		time.Sleep(100 * time.Millisecond)
		os.RemoveAll(inst.ProfileDir)
		inst.ProfileDir = ""
	}
	return nil
}

// SignalProcess sends sig to the process with the given pid.
func SignalProcess(pid int, sig os.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid process id %d", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signalling process %d: %w", pid, err)
	}
	return nil
}
