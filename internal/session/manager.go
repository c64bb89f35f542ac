package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/tomyan/foxtrot/internal/logging"
	"github.com/tomyan/foxtrot/internal/webdriver"
)

// ErrIdentityMismatch is matched when the browser's Tor status differs from
// the one requested at session creation.
var ErrIdentityMismatch = errors.New("browser tor status does not match requirement")

// IdentityMismatchError carries the requested and observed Tor status.
type IdentityMismatchError struct {
	WantTor bool
	IsTor   bool
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("browser tor status is %t, required %t", e.IsTor, e.WantTor)
}

func (e *IdentityMismatchError) Unwrap() error {
	return ErrIdentityMismatch
}

// Dialer opens a new driver connection. Errors matching
// webdriver.ErrUnreachable are retried by the manager.
type Dialer func(ctx context.Context) (Driver, error)

// RetryPolicy bounds the connect loop. MaxAttempts 0 retries forever. An
// Interval of zero or less falls back to DefaultRetryPolicy's.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultRetryPolicy retries forever, once a second.
var DefaultRetryPolicy = RetryPolicy{Interval: time.Second}

// ConnectStatus describes one failed connect attempt.
type ConnectStatus struct {
	Attempt int
	Err     error
	First   bool
}

// StatusFunc is told about each failed connect attempt.
type StatusFunc func(ConnectStatus)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRetryPolicy sets the connect retry policy.
func WithRetryPolicy(p RetryPolicy) ManagerOption {
	return func(m *Manager) { m.retry = p }
}

// WithStatusFunc sets the callback for failed connect attempts.
func WithStatusFunc(fn StatusFunc) ManagerOption {
	return func(m *Manager) { m.status = fn }
}

// WithSessionOptions passes opts to the Session the manager creates.
func WithSessionOptions(opts ...Option) ManagerOption {
	return func(m *Manager) { m.sessionOpts = append(m.sessionOpts, opts...) }
}

// Manager lazily connects one driver and hands out the same Session for the
// rest of its life.
type Manager struct {
	dial        Dialer
	retry       RetryPolicy
	status      StatusFunc
	sessionOpts []Option

	mu         sync.Mutex
	driver     Driver
	session    *Session
	requireTor *bool
}

// NewManager returns a manager that connects with dial on first use.
func NewManager(dial Dialer, opts ...ManagerOption) *Manager {
	m := &Manager{
		dial:  dial,
		retry: DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retry.Interval <= 0 {
		m.retry.Interval = DefaultRetryPolicy.Interval
	}
	return m
}

// GetOrCreate returns the manager's session, connecting first if needed.
//
// When requireTor is non-nil on the creating call, the browser's Tor status is
// checked against it. The session is kept even if the check fails. Later calls
// return the same session without checking again.
func (m *Manager) GetOrCreate(ctx context.Context, requireTor *bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		if requireTor != nil && (m.requireTor == nil || *m.requireTor != *requireTor) {
			L_warn("session: tor requirement differs from the one used at creation, not checking again",
				"requested", *requireTor)
		}
		return m.session, nil
	}

	d, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}

	if err := d.SetPref(ctx, "dom.webdriver.enabled", false); err != nil {
		if !errors.Is(err, webdriver.ErrUnsupported) {
			d.Close()
			return nil, fmt.Errorf("disabling webdriver flag: %w", err)
		}
		L_warn("session: driver cannot set preferences, navigator.webdriver stays visible")
	}

	m.driver = d
	m.session = New(d, m.sessionOpts...)
	m.requireTor = requireTor

	if requireTor == nil {
		return m.session, nil
	}
	isTor, err := m.session.IsTor(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking tor: %w", err)
	}
	if isTor != *requireTor {
		return nil, &IdentityMismatchError{WantTor: *requireTor, IsTor: isTor}
	}
	return m.session, nil
}

// Session returns the current session, or nil before the first successful
// GetOrCreate.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Close closes the driver and forgets the session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.driver == nil {
		return nil
	}
	err := m.driver.Close()
	m.driver = nil
	m.session = nil
	m.requireTor = nil
	return err
}

func (m *Manager) connect(ctx context.Context) (Driver, error) {
	for attempt := 1; ; attempt++ {
		d, err := m.dial(ctx)
		if err == nil {
			L_debug("session: connected", "attempt", attempt)
			return d, nil
		}
		if !errors.Is(err, webdriver.ErrUnreachable) {
			return nil, err
		}

		L_debug("session: browser unreachable", "attempt", attempt, "error", err)
		if m.status != nil {
			m.status(ConnectStatus{Attempt: attempt, Err: err, First: attempt == 1})
		}
		if m.retry.MaxAttempts > 0 && attempt >= m.retry.MaxAttempts {
			return nil, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.retry.Interval):
		}
	}
}
