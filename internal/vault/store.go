// Package vault is the encrypted credential store for exchange accounts.
package vault

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vault-core/internal/events"
	"vault-core/internal/monitor"
	"vault-core/internal/session"
	"vault-core/internal/storage"
	"vault-core/pkg/crypto"
	"vault-core/pkg/exchanges/common"
)

var (
	ErrNotUnlocked         = session.ErrNotUnlocked
	ErrDecryptionFailed    = crypto.ErrDecryptionFailed
	ErrUnsupportedExchange = common.ErrUnsupportedExchange
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAccount      = errors.New("invalid account")
)

// decryptWorkers bounds concurrent PBKDF2 derivations.
const decryptWorkers = 4

// ClientSource supplies live exchange clients for decrypted accounts.
type ClientSource interface {
	Client(ctx context.Context, accountID string, id common.ExchangeID, creds common.Credentials) (common.Client, error)
	Remove(accountID string)
	Clear()
}

// Store persists accounts under the "accounts" key and keeps decrypted
// views for the live session only.
type Store struct {
	durable storage.Durable
	session *session.Manager
	clients ClientSource
	bus     *events.Bus
	metrics *monitor.Metrics
	logger  *zap.Logger

	// mu serializes read-modify-write of the accounts collection.
	mu sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]DecryptedAccount
}

// Option configures a Store.
type Option func(*Store)

func WithClients(c ClientSource) Option     { return func(s *Store) { s.clients = c } }
func WithBus(b *events.Bus) Option          { return func(s *Store) { s.bus = b } }
func WithMetrics(m *monitor.Metrics) Option { return func(s *Store) { s.metrics = m } }
func WithLogger(l *zap.Logger) Option       { return func(s *Store) { s.logger = l } }

// NewStore creates a Store and ties its decrypted cache to sess.
func NewStore(durable storage.Durable, sess *session.Manager, opts ...Option) *Store {
	s := &Store{
		durable: durable,
		session: sess,
		logger:  zap.NewNop(),
		cache:   make(map[string]DecryptedAccount),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("vault")
	sess.OnEnd(func(session.Info) { s.purge() })
	return s
}

// AddAccount encrypts the secrets of raw under pin and appends the account.
// pin must be the live session PIN.
func (s *Store) AddAccount(ctx context.Context, raw RawAccount, pin string) (Account, error) {
	if err := s.requirePin(pin); err != nil {
		return Account{}, err
	}
	id, err := common.ParseExchangeID(strings.ToLower(strings.TrimSpace(raw.ExchangeID)))
	if err != nil {
		return Account{}, fmt.Errorf("%w: %q", err, raw.ExchangeID)
	}
	raw.APIKey = strings.TrimSpace(raw.APIKey)
	raw.SecretKey = strings.TrimSpace(raw.SecretKey)
	raw.Passphrase = strings.TrimSpace(raw.Passphrase)
	if raw.APIKey == "" || raw.SecretKey == "" {
		return Account{}, fmt.Errorf("%w: API key and secret are required", ErrInvalidAccount)
	}
	if id == common.Bitget && raw.Passphrase == "" {
		return Account{}, fmt.Errorf("%w: bitget requires a passphrase", ErrInvalidAccount)
	}
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		name = string(id)
	}

	encKey, err := crypto.EncryptString(raw.APIKey, pin)
	if err != nil {
		return Account{}, fmt.Errorf("encrypt api key: %w", err)
	}
	encSecret, err := crypto.EncryptString(raw.SecretKey, pin)
	if err != nil {
		return Account{}, fmt.Errorf("encrypt secret key: %w", err)
	}
	acct := Account{
		ID:                 uuid.NewString(),
		ExchangeID:         id,
		Name:               name,
		EncryptedAPIKey:    *encKey,
		EncryptedSecretKey: *encSecret,
		CreatedAt:          time.Now().UTC(),
	}
	if raw.Passphrase != "" {
		encPass, err := crypto.EncryptString(raw.Passphrase, pin)
		if err != nil {
			return Account{}, fmt.Errorf("encrypt passphrase: %w", err)
		}
		acct.EncryptedPassphrase = encPass
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.load(ctx)
	if err != nil {
		return Account{}, err
	}
	accounts = append(accounts, acct)
	if err := s.durable.Set(ctx, storage.KeyAccounts, accounts); err != nil {
		return Account{}, fmt.Errorf("save accounts: %w", err)
	}

	s.metrics.AccountAdded()
	s.logger.Info("account added", zap.String("account_id", acct.ID), zap.String("exchange", string(id)))
	s.bus.Publish(events.EventAccountAdded, events.AccountPayload{AccountID: acct.ID, ExchangeID: string(id), Name: name})
	return acct, nil
}

// ListAccounts returns the persisted records without decrypting anything.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// DecryptAllAccounts decrypts every account under pin. Any failure fails
// the whole call with ErrDecryptionFailed: a PIN that cannot open one
// account is treated as an invalid session, not a per-account problem.
// It needs a live session, and a session that ends while decryption runs
// fails the call with ErrNotUnlocked.
func (s *Store) DecryptAllAccounts(ctx context.Context, pin string, accounts []Account) (map[string]DecryptedAccount, error) {
	info, ok := s.session.Current()
	if !ok {
		return nil, ErrNotUnlocked
	}
	sid := info.ID

	out := make(map[string]DecryptedAccount, len(accounts))
	var outMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(decryptWorkers)
	for _, acct := range accounts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := decrypt(acct, pin)
			if err != nil {
				return err
			}
			outMu.Lock()
			out[acct.ID] = d
			outMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrDecryptionFailed) {
			s.logger.Warn("decrypt all failed; session PIN invalid", zap.Int("accounts", len(accounts)))
			return nil, ErrDecryptionFailed
		}
		return nil, err
	}

	current := s.session.IsCurrent(sid)
	if current && s.isSessionPin(pin) {
		current = s.cacheIfCurrent(sid, out)
	}
	if !current {
		s.logger.Warn("session ended during decryption", zap.Int("accounts", len(accounts)))
		return nil, ErrNotUnlocked
	}
	return out, nil
}

// DecryptAccount returns the decrypted view of one account with a live
// client. The client comes from the ClientSource on every call so its
// health and idle state apply; the vault caches credentials only.
func (s *Store) DecryptAccount(ctx context.Context, pin, id string) (DecryptedAccount, error) {
	sid, err := s.sessionFor(pin)
	if err != nil {
		return DecryptedAccount{}, err
	}

	s.cacheMu.RLock()
	d, ok := s.cache[id]
	s.cacheMu.RUnlock()

	if !ok {
		acct, err := s.find(ctx, id)
		if err != nil {
			return DecryptedAccount{}, err
		}
		d, err = decrypt(acct, pin)
		if err != nil {
			s.logger.Warn("decrypt account failed", zap.String("account_id", id))
			return DecryptedAccount{}, err
		}
		if !s.cacheIfCurrent(sid, map[string]DecryptedAccount{id: d}) {
			s.logger.Warn("session ended during decryption", zap.String("account_id", id))
			return DecryptedAccount{}, ErrNotUnlocked
		}
	}

	if s.clients != nil {
		client, err := s.clients.Client(ctx, d.ID, d.ExchangeID, d.Credentials)
		if err != nil {
			return DecryptedAccount{}, fmt.Errorf("exchange client: %w", err)
		}
		// The session may have ended while the client was built; the
		// registry was cleared before it existed, so drop it here.
		if !s.session.IsCurrent(sid) {
			s.clients.Remove(d.ID)
			return DecryptedAccount{}, ErrNotUnlocked
		}
		d.Client = client
	}
	return d, nil
}

// RemoveAccount deletes one account. The vault must be unlocked.
func (s *Store) RemoveAccount(ctx context.Context, id string) error {
	if _, err := s.session.PIN(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.load(ctx)
	if err != nil {
		return err
	}
	idx := -1
	for i, a := range accounts {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrAccountNotFound
	}
	removed := accounts[idx]
	accounts = append(accounts[:idx], accounts[idx+1:]...)
	if err := s.durable.Set(ctx, storage.KeyAccounts, accounts); err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}

	s.cacheMu.Lock()
	delete(s.cache, id)
	s.cacheMu.Unlock()
	if s.clients != nil {
		s.clients.Remove(id)
	}

	s.logger.Info("account removed", zap.String("account_id", id))
	s.bus.Publish(events.EventAccountRemoved, events.AccountPayload{AccountID: id, ExchangeID: string(removed.ExchangeID)})
	return nil
}

// Wipe deletes every account and drops decrypted state.
func (s *Store) Wipe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.durable.Delete(ctx, storage.KeyAccounts); err != nil {
		return fmt.Errorf("delete accounts: %w", err)
	}
	s.purge()
	s.logger.Warn("all accounts wiped")
	return nil
}

// purge drops every decrypted view and live client.
func (s *Store) purge() {
	s.cacheMu.Lock()
	n := len(s.cache)
	s.cache = make(map[string]DecryptedAccount)
	s.cacheMu.Unlock()
	if s.clients != nil {
		s.clients.Clear()
	}
	if n > 0 {
		s.logger.Debug("decrypted accounts purged", zap.Int("count", n))
	}
}

func (s *Store) load(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := s.durable.Get(ctx, storage.KeyAccounts, &accounts)
	if errors.Is(err, storage.ErrNotFound) {
		return []Account{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	if accounts == nil {
		accounts = []Account{}
	}
	return accounts, nil
}

func (s *Store) find(ctx context.Context, id string) (Account, error) {
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return Account{}, err
	}
	for _, a := range accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

// sessionFor returns the id of the live session when pin is its PIN.
func (s *Store) sessionFor(pin string) (string, error) {
	info, ok := s.session.Current()
	if !ok || pin == "" || !s.isSessionPin(pin) || !s.session.IsCurrent(info.ID) {
		return "", ErrNotUnlocked
	}
	return info.ID, nil
}

// cacheIfCurrent stores decrypted credentials while session sid is live.
// Holding cacheMu across the check orders it against purge; Live does not
// end an expired session, so no purge runs under the lock.
func (s *Store) cacheIfCurrent(sid string, accounts map[string]DecryptedAccount) bool {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if !s.session.Live(sid) {
		return false
	}
	for id, d := range accounts {
		d.Client = nil
		s.cache[id] = d
	}
	return true
}

// requirePin accepts pin only when it is the live session PIN.
func (s *Store) requirePin(pin string) error {
	if pin == "" || !s.isSessionPin(pin) {
		return ErrNotUnlocked
	}
	return nil
}

func (s *Store) isSessionPin(pin string) bool {
	current, err := s.session.PIN()
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(current), []byte(pin)) == 1
}

// decrypt is swapped in tests.
var decrypt = decryptAccount

func decryptAccount(acct Account, pin string) (DecryptedAccount, error) {
	apiKey, err := crypto.DecryptString(&acct.EncryptedAPIKey, pin)
	if err != nil {
		return DecryptedAccount{}, err
	}
	secret, err := crypto.DecryptString(&acct.EncryptedSecretKey, pin)
	if err != nil {
		return DecryptedAccount{}, err
	}
	creds := common.Credentials{APIKey: apiKey, Secret: secret}
	if acct.EncryptedPassphrase != nil {
		creds.Passphrase, err = crypto.DecryptString(acct.EncryptedPassphrase, pin)
		if err != nil {
			return DecryptedAccount{}, err
		}
	}
	return DecryptedAccount{Account: acct, Credentials: creds}, nil
}
