package vault

import (
	"time"

	"vault-core/pkg/crypto"
	"vault-core/pkg/exchanges/common"
)

// Account is the persisted record. Secrets are only ever held encrypted.
type Account struct {
	ID                  string                   `json:"id"`
	ExchangeID          common.ExchangeID        `json:"exchangeId"`
	Name                string                   `json:"name"`
	EncryptedAPIKey     crypto.EncryptedPayload  `json:"encryptedApiKey"`
	EncryptedSecretKey  crypto.EncryptedPayload  `json:"encryptedSecretKey"`
	EncryptedPassphrase *crypto.EncryptedPayload `json:"encryptedPassphrase,omitempty"`
	CreatedAt           time.Time                `json:"createdAt"`
}

// RawAccount is user input before encryption.
type RawAccount struct {
	ExchangeID string `json:"exchangeId"`
	Name       string `json:"name"`
	APIKey     string `json:"apiKey"`
	SecretKey  string `json:"secretKey"`
	Passphrase string `json:"passphrase,omitempty"`
}

// Credentials returns the raw secrets in exchange form.
func (r RawAccount) Credentials() common.Credentials {
	return common.Credentials{APIKey: r.APIKey, Secret: r.SecretKey, Passphrase: r.Passphrase}
}

// DecryptedAccount is a session-only view. It is never persisted and the
// secrets never serialize.
type DecryptedAccount struct {
	Account
	Credentials common.Credentials `json:"-"`
	Client      common.Client      `json:"-"`
}
