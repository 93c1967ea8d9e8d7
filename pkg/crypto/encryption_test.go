package crypto

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"short", "hello"},
		{"api_key", "abc123XYZ789"},
		{"long", "this is a very long string that represents an API secret key from Binance exchange"},
		{"unicode", "中文測試 🔐"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncryptString(tt.plaintext, "1234")
			require.NoError(t, err)
			assert.Len(t, payload.IV, NonceSize)
			assert.Len(t, payload.Salt, SaltSize)

			decrypted, err := DecryptString(payload, "1234")
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, decrypted)
		})
	}
}

func TestDecryptWrongPin(t *testing.T) {
	payload, err := EncryptString("secret-key", "1234")
	require.NoError(t, err)

	_, err = Decrypt(payload, "4321")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEncryptFreshSaltAndIV(t *testing.T) {
	p1, err := EncryptString("same-api-key", "1234")
	require.NoError(t, err)
	p2, err := EncryptString("same-api-key", "1234")
	require.NoError(t, err)

	assert.NotEqual(t, p1.IV, p2.IV)
	assert.NotEqual(t, p1.Salt, p2.Salt)
	assert.NotEqual(t, p1.Ciphertext, p2.Ciphertext)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{7}, SaltSize)

	k1, err := DeriveKey("1234", salt)
	require.NoError(t, err)
	k2, err := DeriveKey("1234", salt)
	require.NoError(t, err)
	k3, err := DeriveKey("1235", salt)
	require.NoError(t, err)

	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)

	_, err = DeriveKey("1234", []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidSalt)
}

func TestDecryptCorruptedPayload(t *testing.T) {
	payload, err := EncryptString("secret-key", "1234")
	require.NoError(t, err)

	tampered := *payload
	tampered.Ciphertext = append(Bytes(nil), payload.Ciphertext...)
	tampered.Ciphertext[0] ^= 0xff

	invalids := map[string]*EncryptedPayload{
		"nil":          nil,
		"tampered":     &tampered,
		"short iv":     {Ciphertext: payload.Ciphertext, IV: payload.IV[:4], Salt: payload.Salt},
		"missing salt": {Ciphertext: payload.Ciphertext, IV: payload.IV},
	}
	for name, p := range invalids {
		t.Run(name, func(t *testing.T) {
			_, err := Decrypt(p, "1234")
			assert.ErrorIs(t, err, ErrDecryptionFailed)
		})
	}
}

func TestPayloadJSONUsesNumericArrays(t *testing.T) {
	payload, err := EncryptString("abc", "1234")
	require.NoError(t, err)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), `{"ciphertext":[`), string(raw))

	var decoded EncryptedPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	plaintext, err := DecryptString(&decoded, "1234")
	require.NoError(t, err)
	assert.Equal(t, "abc", plaintext)

	var bad Bytes
	assert.Error(t, json.Unmarshal([]byte(`[1,256]`), &bad))
}

func TestFingerprint(t *testing.T) {
	fp, err := SealFingerprint("1234")
	require.NoError(t, err)

	assert.NoError(t, VerifyFingerprint(fp, "1234"))
	assert.ErrorIs(t, VerifyFingerprint(fp, "0000"), ErrDecryptionFailed)

	// A payload that decrypts fine but holds other text must not verify.
	other, err := EncryptString("something else", "1234")
	require.NoError(t, err)
	assert.ErrorIs(t, VerifyFingerprint(other, "1234"), ErrDecryptionFailed)
}
