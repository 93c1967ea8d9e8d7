package crypto

import "crypto/subtle"

// VerificationText is the known plaintext sealed under the PIN.
// Changing it invalidates every stored fingerprint.
const VerificationText = "pin-verification-v1"

// SealFingerprint encrypts the verification text under pin.
func SealFingerprint(pin string) (*EncryptedPayload, error) {
	return Encrypt([]byte(VerificationText), pin)
}

// VerifyFingerprint reports whether pin opens the fingerprint to the exact
// verification text. Wrong PIN, tampered payload and unexpected plaintext all
// return ErrDecryptionFailed.
func VerifyFingerprint(p *EncryptedPayload, pin string) error {
	plaintext, err := Decrypt(p, pin)
	if err != nil {
		return ErrDecryptionFailed
	}
	if subtle.ConstantTimeCompare(plaintext, []byte(VerificationText)) != 1 {
		return ErrDecryptionFailed
	}
	return nil
}
