// Package machine derives secrets bound to the host the service runs on.
package machine

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/denisbrodbeck/machineid"
)

// idFunc is swapped in tests.
var idFunc = machineid.ProtectedID

// SigningSecret returns a stable 32-byte secret for appID on this machine.
// The raw machine id never leaves this function: machineid hashes it
// with appID first.
func SigningSecret(appID string) ([]byte, error) {
	id, err := idFunc(appID)
	if err != nil {
		return nil, fmt.Errorf("machine id: %w", err)
	}
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) == 0 {
		sum := sha256.Sum256([]byte(id))
		raw = sum[:]
	}
	return raw, nil
}

// RandomSecret returns n random bytes. Tokens signed with it do not
// survive a restart.
func RandomSecret(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("random secret: %w", err)
	}
	return b, nil
}

// Secret prefers the machine-bound secret and falls back to a random one.
// fromMachine reports which was used.
func Secret(appID string) (secret []byte, fromMachine bool, err error) {
	if s, err := SigningSecret(appID); err == nil {
		return s, true, nil
	}
	s, err := RandomSecret(32)
	return s, false, err
}
