package pin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vault-core/internal/monitor"
	"vault-core/internal/session"
	"vault-core/internal/storage"
	"vault-core/pkg/crypto"
)

type fakeWiper struct{ calls int }

func (w *fakeWiper) Wipe(context.Context) error {
	w.calls++
	return nil
}

type fixture struct {
	mgr     *Manager
	durable *storage.MemoryStore
	sess    *session.Manager
	wiper   *fakeWiper
	metrics *monitor.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		durable: storage.NewMemoryStore(),
		sess:    session.NewManager(storage.NewSession(), time.Hour, nil, zaptest.NewLogger(t)),
		wiper:   &fakeWiper{},
		metrics: monitor.NewMetrics(),
	}
	f.mgr = NewManager(f.durable, f.sess,
		WithWiper(f.wiper), WithMetrics(f.metrics), WithLogger(zaptest.NewLogger(t)))
	return f
}

func (f *fixture) state(t *testing.T) State {
	t.Helper()
	s, err := f.mgr.State(context.Background())
	require.NoError(t, err)
	return s
}

func (f *fixture) create(t *testing.T, pin string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.mgr.BeginSetup(ctx))
	require.NoError(t, f.mgr.EnterFirst(pin))
	_, err := f.mgr.Confirm(ctx, pin)
	require.NoError(t, err)
}

func TestValidateFormat(t *testing.T) {
	for _, ok := range []string{"0000", "1234", "9876"} {
		assert.NoError(t, ValidateFormat(ok), ok)
	}
	for _, bad := range []string{"", "123", "12345", "12a4", " 123", "١٢٣٤", "12.4"} {
		assert.ErrorIs(t, ValidateFormat(bad), ErrInvalidPinFormat, bad)
	}
}

func TestSetupConfirmMatching(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, NoPinSet, f.state(t))
	require.NoError(t, f.mgr.BeginSetup(ctx))
	assert.Equal(t, AwaitingFirstEntry, f.state(t))

	require.NoError(t, f.mgr.EnterFirst("1234"))
	assert.Equal(t, AwaitingConfirmation, f.state(t))

	info, err := f.mgr.Confirm(ctx, "1234")
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, PinValidated, f.state(t))

	var created bool
	require.NoError(t, f.durable.Get(ctx, storage.KeyPinCreated, &created))
	assert.True(t, created)

	var fp crypto.EncryptedPayload
	require.NoError(t, f.durable.Get(ctx, storage.KeyEncryptedPin, &fp))
	assert.NoError(t, crypto.VerifyFingerprint(&fp, "1234"))

	raw, _ := f.durable.Raw(storage.KeyEncryptedPin)
	assert.NotContains(t, string(raw), "1234")

	// Locking returns to PinConfirmed.
	f.mgr.Lock()
	assert.Equal(t, PinConfirmed, f.state(t))
	assert.ErrorIs(t, f.mgr.BeginSetup(ctx), ErrPinAlreadySet)
}

func TestConfirmMismatchResetsAfterFiveAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mgr.BeginSetup(ctx))
	require.NoError(t, f.mgr.EnterFirst("1234"))

	for i := 1; i < MaxConfirmAttempts; i++ {
		_, err := f.mgr.Confirm(ctx, "5678")
		assert.ErrorIs(t, err, ErrPinMismatch)
		st, err := f.mgr.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, AwaitingConfirmation, st.State)
		assert.Equal(t, i, st.ConfirmAttempts)
	}

	_, err := f.mgr.Confirm(ctx, "5678")
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	st, err := f.mgr.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, AwaitingFirstEntry, st.State)
	assert.Equal(t, 0, st.ConfirmAttempts)

	// The held first entry was discarded.
	_, err = f.mgr.Confirm(ctx, "1234")
	assert.ErrorIs(t, err, ErrInvalidState)

	var created bool
	assert.ErrorIs(t, f.durable.Get(ctx, storage.KeyPinCreated, &created), storage.ErrNotFound)
}

func TestConfirmSuccessClearsCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mgr.BeginSetup(ctx))
	require.NoError(t, f.mgr.EnterFirst("1234"))
	_, err := f.mgr.Confirm(ctx, "9999")
	assert.ErrorIs(t, err, ErrPinMismatch)

	_, err = f.mgr.Confirm(ctx, "1234")
	require.NoError(t, err)

	st, err := f.mgr.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.ConfirmAttempts)
}

func TestFormatRejectedBeforeStateChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.mgr.EnterFirst("12"), ErrInvalidPinFormat)
	assert.ErrorIs(t, f.mgr.EnterFirst("1234"), ErrInvalidState)

	_, err := f.mgr.Unlock(ctx, "abcd")
	assert.ErrorIs(t, err, ErrInvalidPinFormat)
	_, err = f.mgr.Unlock(ctx, "1234")
	assert.ErrorIs(t, err, ErrPinNotSet)
}

func TestUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "1234")
	f.mgr.Lock()

	_, err := f.mgr.Unlock(ctx, "0000")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Equal(t, PinConfirmed, f.state(t))

	_, err = f.mgr.Unlock(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, PinValidated, f.state(t))

	pin, err := f.sess.PIN()
	require.NoError(t, err)
	assert.Equal(t, "1234", pin)

	snap := f.metrics.GetSnapshot()
	assert.Equal(t, uint64(1), snap.UnlockFailure)
	assert.Equal(t, uint64(1), snap.UnlockSuccess)
}

func TestUnlockCorruptedFingerprintLooksLikeWrongPin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "1234")
	f.mgr.Lock()

	var fp crypto.EncryptedPayload
	require.NoError(t, f.durable.Get(ctx, storage.KeyEncryptedPin, &fp))
	fp.Ciphertext[0] ^= 0x01
	require.NoError(t, f.durable.Set(ctx, storage.KeyEncryptedPin, fp))

	_, errCorrupt := f.mgr.Unlock(ctx, "1234")
	_, errWrong := f.mgr.Unlock(ctx, "4321")
	assert.ErrorIs(t, errCorrupt, ErrDecryptionFailed)
	assert.Equal(t, errWrong, errCorrupt)

	require.NoError(t, f.durable.Set(ctx, storage.KeyEncryptedPin, "not a payload"))
	_, err := f.mgr.Unlock(ctx, "1234")
	assert.Equal(t, errWrong, err)
}

func TestUnlockLockoutUntilReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "1234")
	f.mgr.Lock()

	for i := 0; i < MaxUnlockAttempts; i++ {
		_, err := f.mgr.Unlock(ctx, "0000")
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	}
	_, err := f.mgr.Unlock(ctx, "1234")
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	require.NoError(t, f.mgr.Reset(ctx))
	assert.Equal(t, 1, f.wiper.calls)
	assert.Equal(t, NoPinSet, f.state(t))

	_, err = f.mgr.Unlock(ctx, "1234")
	assert.ErrorIs(t, err, ErrPinNotSet)

	f.create(t, "4321")
	assert.Equal(t, PinValidated, f.state(t))
}

func TestResetEndsSession(t *testing.T) {
	f := newFixture(t)
	f.create(t, "1234")

	require.NoError(t, f.mgr.Reset(context.Background()))
	_, err := f.sess.PIN()
	assert.ErrorIs(t, err, session.ErrNotUnlocked)
	_, ok := f.durable.Raw(storage.KeyEncryptedPin)
	assert.False(t, ok)
}
