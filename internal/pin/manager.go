// Package pin implements PIN setup, confirmation, unlock and reset.
package pin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"vault-core/internal/events"
	"vault-core/internal/monitor"
	"vault-core/internal/session"
	"vault-core/internal/storage"
	"vault-core/pkg/crypto"
)

const (
	// Length is the exact number of digits in a PIN.
	Length = 4
	// MaxConfirmAttempts mismatches discard the first entry.
	MaxConfirmAttempts = 5
	// MaxUnlockAttempts consecutive failures block Unlock until Reset.
	MaxUnlockAttempts = 5
)

var (
	ErrInvalidPinFormat = errors.New("PIN must be exactly 4 digits")
	ErrPinMismatch      = errors.New("PIN confirmation does not match")
	ErrTooManyAttempts  = errors.New("too many attempts")
	ErrPinNotSet        = errors.New("no PIN has been set")
	ErrPinAlreadySet    = errors.New("PIN already set")
	ErrInvalidState     = errors.New("operation not allowed in current PIN state")
	// ErrDecryptionFailed covers a wrong PIN and a corrupted fingerprint alike.
	ErrDecryptionFailed = crypto.ErrDecryptionFailed
)

// Wiper erases everything protected by the PIN.
type Wiper interface {
	Wipe(ctx context.Context) error
}

// Status is the externally visible PIN state.
type Status struct {
	State                   State `json:"state"`
	ConfirmAttempts         int   `json:"confirmAttempts"`
	UnlockAttemptsRemaining int   `json:"unlockAttemptsRemaining"`
}

// Manager drives the PIN state machine. Durable storage holds only the
// fingerprint and the pinCreated flag; the plaintext PIN lives in the session.
type Manager struct {
	durable storage.Durable
	session *session.Manager
	wiper   Wiper
	bus     *events.Bus
	metrics *monitor.Metrics
	logger  *zap.Logger

	mu              sync.Mutex
	setup           State // NoPinSet when no setup is in progress
	firstEntry      string
	confirmAttempts int
	unlockFailures  int
}

// Option configures a Manager.
type Option func(*Manager)

// WithWiper registers the store erased by Reset.
func WithWiper(w Wiper) Option { return func(m *Manager) { m.wiper = w } }

// WithBus publishes pin.state and vault.reset events.
func WithBus(b *events.Bus) Option { return func(m *Manager) { m.bus = b } }

// WithMetrics counts unlock outcomes.
func WithMetrics(mt *monitor.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.logger = l } }

// NewManager creates a PIN manager.
func NewManager(durable storage.Durable, sess *session.Manager, opts ...Option) *Manager {
	m := &Manager{durable: durable, session: sess, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("pin")
	return m
}

// ValidateFormat reports ErrInvalidPinFormat unless pin is exactly four ASCII digits.
func ValidateFormat(pin string) error {
	if len(pin) != Length {
		return ErrInvalidPinFormat
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return ErrInvalidPinFormat
		}
	}
	return nil
}

// Status derives the current state from durable and session storage.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.stateLocked(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		State:                   st,
		ConfirmAttempts:         m.confirmAttempts,
		UnlockAttemptsRemaining: MaxUnlockAttempts - m.unlockFailures,
	}, nil
}

// State is Status without the counters.
func (m *Manager) State(ctx context.Context) (State, error) {
	s, err := m.Status(ctx)
	return s.State, err
}

// BeginSetup moves NoPinSet to AwaitingFirstEntry.
func (m *Manager) BeginSetup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	created, err := m.pinCreated(ctx)
	if err != nil {
		return err
	}
	if created {
		return ErrPinAlreadySet
	}
	m.setup = AwaitingFirstEntry
	m.firstEntry = ""
	m.confirmAttempts = 0
	m.publishState(AwaitingFirstEntry)
	return nil
}

// EnterFirst holds the first entry in memory and waits for confirmation.
func (m *Manager) EnterFirst(pin string) error {
	if err := ValidateFormat(pin); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setup != AwaitingFirstEntry {
		return ErrInvalidState
	}
	m.firstEntry = pin
	m.setup = AwaitingConfirmation
	m.publishState(AwaitingConfirmation)
	return nil
}

// Confirm completes setup when pin equals the first entry. The fingerprint
// is persisted and a session starts with the new PIN.
//
// A mismatch keeps the first entry so the user can retry; the
// MaxConfirmAttempts-th consecutive mismatch drops it and returns
// ErrTooManyAttempts with the state back at AwaitingFirstEntry.
func (m *Manager) Confirm(ctx context.Context, pin string) (session.Info, error) {
	if err := ValidateFormat(pin); err != nil {
		return session.Info{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setup != AwaitingConfirmation {
		return session.Info{}, ErrInvalidState
	}

	if pin != m.firstEntry {
		m.confirmAttempts++
		if m.confirmAttempts >= MaxConfirmAttempts {
			m.logger.Warn("PIN confirmation attempts exhausted; restarting setup")
			m.firstEntry = ""
			m.confirmAttempts = 0
			m.setup = AwaitingFirstEntry
			m.publishState(AwaitingFirstEntry)
			return session.Info{}, ErrTooManyAttempts
		}
		return session.Info{}, ErrPinMismatch
	}

	fp, err := crypto.SealFingerprint(pin)
	if err != nil {
		return session.Info{}, fmt.Errorf("seal fingerprint: %w", err)
	}
	if err := m.durable.Set(ctx, storage.KeyEncryptedPin, fp); err != nil {
		return session.Info{}, fmt.Errorf("persist fingerprint: %w", err)
	}
	if err := m.durable.Set(ctx, storage.KeyPinCreated, true); err != nil {
		return session.Info{}, fmt.Errorf("persist pinCreated: %w", err)
	}

	m.firstEntry = ""
	m.confirmAttempts = 0
	m.unlockFailures = 0
	m.setup = NoPinSet

	info := m.session.Start(pin)
	m.logger.Info("PIN created")
	m.publishState(PinValidated)
	return info, nil
}

// Unlock verifies pin against the stored fingerprint and starts a session.
// Wrong PIN and corrupted fingerprint both return ErrDecryptionFailed.
func (m *Manager) Unlock(ctx context.Context, pin string) (session.Info, error) {
	if err := ValidateFormat(pin); err != nil {
		return session.Info{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	created, err := m.pinCreated(ctx)
	if err != nil {
		return session.Info{}, err
	}
	if !created {
		return session.Info{}, ErrPinNotSet
	}
	if m.unlockFailures >= MaxUnlockAttempts {
		return session.Info{}, ErrTooManyAttempts
	}

	timer := monitor.NewTimer(m.unlockHistogram())
	verr := m.verify(ctx, pin)
	timer.Stop()

	if verr != nil {
		m.unlockFailures++
		m.metrics.UnlockFailed()
		m.logger.Warn("unlock failed", zap.Int("failures", m.unlockFailures))
		if m.unlockFailures >= MaxUnlockAttempts {
			m.session.End()
		}
		return session.Info{}, ErrDecryptionFailed
	}

	m.unlockFailures = 0
	m.metrics.UnlockSucceeded()
	info := m.session.Start(pin)
	m.publishState(PinValidated)
	return info, nil
}

// Lock ends the session; the PIN stays configured.
func (m *Manager) Lock() {
	m.session.End()
	m.publishState(PinConfirmed)
}

// Reset is the forgot-PIN path: it wipes protected data, the fingerprint
// and pinCreated, ends the session and returns to NoPinSet.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session.End()
	if m.wiper != nil {
		if err := m.wiper.Wipe(ctx); err != nil {
			return fmt.Errorf("wipe vault: %w", err)
		}
	}
	if err := m.durable.Delete(ctx, storage.KeyEncryptedPin, storage.KeyPinCreated); err != nil {
		return fmt.Errorf("delete PIN: %w", err)
	}

	m.setup = NoPinSet
	m.firstEntry = ""
	m.confirmAttempts = 0
	m.unlockFailures = 0

	m.logger.Warn("vault reset")
	m.bus.Publish(events.EventVaultReset, nil)
	m.publishState(NoPinSet)
	return nil
}

func (m *Manager) verify(ctx context.Context, pin string) error {
	var fp crypto.EncryptedPayload
	if err := m.durable.Get(ctx, storage.KeyEncryptedPin, &fp); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrDecryptionFailed
		}
		// Undecodable fingerprint is corruption, not an I/O failure.
		m.logger.Error("load fingerprint", zap.Error(err))
		return ErrDecryptionFailed
	}
	return crypto.VerifyFingerprint(&fp, pin)
}

func (m *Manager) stateLocked(ctx context.Context) (State, error) {
	if _, ok := m.session.Current(); ok {
		if _, err := m.session.PIN(); err == nil {
			return PinValidated, nil
		}
	}
	if m.setup == AwaitingFirstEntry || m.setup == AwaitingConfirmation {
		return m.setup, nil
	}
	created, err := m.pinCreated(ctx)
	if err != nil {
		return NoPinSet, err
	}
	if created {
		return PinConfirmed, nil
	}
	return NoPinSet, nil
}

func (m *Manager) pinCreated(ctx context.Context) (bool, error) {
	var created bool
	err := m.durable.Get(ctx, storage.KeyPinCreated, &created)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read pinCreated: %w", err)
	}
	return created, nil
}

func (m *Manager) unlockHistogram() *monitor.LatencyHistogram {
	if m.metrics == nil {
		return nil
	}
	return m.metrics.UnlockLatency
}

func (m *Manager) publishState(s State) {
	m.bus.Publish(events.EventPinState, events.PinStatePayload{State: s.String()})
}
