// Command foxtrot drives a Marionette or WebDriver BiDi enabled Firefox from
// the shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tomyan/foxtrot/internal/config"
	"github.com/tomyan/foxtrot/internal/session"
	"github.com/tomyan/foxtrot/internal/webdriver"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// Exit codes
const (
	ExitSuccess    = 0
	ExitError      = 1
	ExitConnFailed = 2
	ExitTimeout    = 3
)

// Env is everything run takes from the outside world.
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string

	// ConfigPaths overrides the config file search. nil means the working
	// directory then the home directory.
	ConfigPaths []string

	// Dial overrides how a driver is opened, for tests.
	Dial func(ctx context.Context, cfg *config.Config) (session.Driver, error)
}

// DefaultEnv wires the process's streams and environment.
func DefaultEnv() *Env {
	return &Env{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Getenv: os.Getenv,
	}
}

func main() {
	os.Exit(run(os.Args[1:], DefaultEnv()))
}

// exitError carries a specific exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func run(args []string, env *Env) int {
	a := newApp(env)
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)

	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintf(env.Stderr, "error: %v\n", err)
	return exitCode(err)
}

func exitCode(err error) int {
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, session.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ExitTimeout
	case errors.Is(err, webdriver.ErrUnreachable):
		return ExitConnFailed
	}
	return ExitError
}
