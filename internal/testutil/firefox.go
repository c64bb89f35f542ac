// Package testutil provides test utilities for the protocol clients.
package testutil

import (
	"fmt"
	"time"

	"github.com/tomyan/foxtrot/internal/launcher"
)

// FirefoxInstance represents a running Firefox instance for testing.
type FirefoxInstance struct {
	inst *launcher.Instance
	Port int
}

// StartFirefox starts a headless Firefox with Marionette on port.
// Returns a FirefoxInstance that must be stopped with Stop().
func StartFirefox(port int) (*FirefoxInstance, error) {
	if launcher.FindFirefox("") == "" {
		return nil, fmt.Errorf("Firefox not found")
	}

	inst, err := launcher.Launch(launcher.LaunchOptions{
		MarionettePort: port,
		Headless:       true,
		StartupTimeout: 20 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	return &FirefoxInstance{inst: inst, Port: port}, nil
}

// PID returns the browser process id.
func (f *FirefoxInstance) PID() int {
	return f.inst.PID
}

// Stop terminates the Firefox instance and cleans up.
func (f *FirefoxInstance) Stop() error {
	return f.inst.Stop()
}
