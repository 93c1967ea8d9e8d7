package machine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withID(t *testing.T, fn func(string) (string, error)) {
	t.Helper()
	orig := idFunc
	idFunc = fn
	t.Cleanup(func() { idFunc = orig })
}

func TestSigningSecretIsStable(t *testing.T) {
	withID(t, func(app string) (string, error) {
		return "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90", nil
	})

	s1, err := SigningSecret("vault-core")
	require.NoError(t, err)
	s2, err := SigningSecret("vault-core")
	require.NoError(t, err)
	assert.Len(t, s1, 32)
	assert.Equal(t, s1, s2)
}

func TestSigningSecretHashesNonHexIDs(t *testing.T) {
	withID(t, func(string) (string, error) { return "not-hex", nil })
	s, err := SigningSecret("vault-core")
	require.NoError(t, err)
	assert.Len(t, s, 32)
}

func TestSecretFallsBackToRandom(t *testing.T) {
	withID(t, func(string) (string, error) { return "", errors.New("no machine id") })

	s1, fromMachine, err := Secret("vault-core")
	require.NoError(t, err)
	assert.False(t, fromMachine)
	s2, _, err := Secret("vault-core")
	require.NoError(t, err)
	assert.Len(t, s1, 32)
	assert.NotEqual(t, s1, s2)
}
