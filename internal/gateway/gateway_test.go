package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vault-core/internal/monitor"
	"vault-core/internal/session"
	"vault-core/internal/storage"
	"vault-core/internal/vault"
	"vault-core/pkg/exchanges/common"
)

type fakeClient struct {
	id         common.ExchangeID
	balanceErr error
	balances   atomic.Int32
}

func (f *fakeClient) ID() common.ExchangeID { return f.id }

func (f *fakeClient) FetchBalance(ctx context.Context) (common.Balance, error) {
	f.balances.Add(1)
	return common.Balance{}, f.balanceErr
}

func (f *fakeClient) SetPositionMode(context.Context, bool, string) error { return nil }
func (f *fakeClient) SetLeverage(context.Context, int, string) error      { return nil }

func (f *fakeClient) SetMarginMode(context.Context, common.MarginMode, string) error { return nil }

func (f *fakeClient) CreateOrder(context.Context, common.OrderRequest) (common.Order, error) {
	return common.Order{ID: "1"}, nil
}

func fakeFactory(balanceErr error, built *atomic.Int32) Factory {
	return func(id common.ExchangeID, creds common.Credentials) (common.Client, error) {
		if built != nil {
			built.Add(1)
		}
		if !creds.Valid() {
			return nil, common.ErrMissingCredentials
		}
		return &fakeClient{id: id, balanceErr: balanceErr}, nil
	}
}

func TestNewFactoryBuildsEveryVenue(t *testing.T) {
	factory := NewFactory(FactoryOptions{Timeout: time.Second, Logger: zaptest.NewLogger(t)})
	creds := common.Credentials{APIKey: "k", Secret: "s", Passphrase: "p"}

	for _, id := range common.Supported {
		client, err := factory(id, creds)
		require.NoError(t, err, id)
		assert.Equal(t, id, client.ID())
	}

	_, err := factory(common.ExchangeID("okx"), creds)
	assert.ErrorIs(t, err, common.ErrUnsupportedExchange)
}

func TestValidatorAcceptsWorkingCredentials(t *testing.T) {
	metrics := monitor.NewMetrics()
	v := NewValidator(fakeFactory(nil, nil), time.Second, metrics, zaptest.NewLogger(t))

	require.NoError(t, v.Validate(context.Background(), "bybit", common.Credentials{APIKey: " k ", Secret: "s"}))
	assert.Zero(t, metrics.GetSnapshot().ValidationErrors)
}

func TestValidatorRejections(t *testing.T) {
	ctx := context.Background()
	var built atomic.Int32

	v := NewValidator(fakeFactory(nil, &built), time.Second, nil, zaptest.NewLogger(t))
	err := v.Validate(ctx, "okx", common.Credentials{APIKey: "k", Secret: "s"})
	assert.ErrorIs(t, err, common.ErrUnsupportedExchange)
	assert.NotErrorIs(t, err, ErrValidation)

	err = v.Validate(ctx, "binance", common.Credentials{APIKey: "", Secret: "s"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, built.Load(), "no client for empty credentials")

	rejected := errors.New("invalid api key")
	v = NewValidator(fakeFactory(rejected, nil), time.Second, nil, zaptest.NewLogger(t))
	err = v.Validate(ctx, "binance", common.Credentials{APIKey: "k", Secret: "s"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, rejected)
}

func TestValidatorAgainstExchangeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`))
	}))
	defer srv.Close()

	factory := NewFactory(FactoryOptions{
		Timeout:  time.Second,
		Logger:   zaptest.NewLogger(t),
		BaseURLs: map[common.ExchangeID]string{common.Binance: srv.URL},
	})
	v := NewValidator(factory, time.Second, nil, zaptest.NewLogger(t))

	err := v.Validate(context.Background(), "binance", common.Credentials{APIKey: "k", Secret: "s"})
	require.ErrorIs(t, err, ErrValidation)
	var apiErr *common.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "-2015", apiErr.Code)
}

func TestRegistryCachesAndEvicts(t *testing.T) {
	var built atomic.Int32
	cfg := DefaultConfig()
	cfg.MaxSize = 2
	r := NewRegistry(fakeFactory(nil, &built), cfg, zaptest.NewLogger(t))

	var size int
	r.OnSizeChange(func(n int) { size = n })

	ctx := context.Background()
	creds := common.Credentials{APIKey: "k", Secret: "s"}

	c1, err := r.Client(ctx, "a1", common.Binance, creds)
	require.NoError(t, err)
	again, err := r.Client(ctx, "a1", common.Binance, creds)
	require.NoError(t, err)
	assert.Same(t, c1, again)
	assert.EqualValues(t, 1, built.Load())

	_, err = r.Client(ctx, "a2", common.Bybit, creds)
	require.NoError(t, err)
	_, err = r.Client(ctx, "a3", common.Bitget, creds)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	stats := r.Stats()
	assert.Equal(t, 2, stats.TotalClients)
	assert.Zero(t, stats.ByExchange["binance"], "oldest entry evicted")

	r.Remove("a2")
	assert.Equal(t, 1, r.Stats().TotalClients)
	r.Clear()
	assert.Equal(t, 0, size)
}

func TestRegistryCircuitOpensAfterFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	r := NewRegistry(fakeFactory(nil, nil), cfg, zaptest.NewLogger(t))
	ctx := context.Background()
	creds := common.Credentials{APIKey: "k", Secret: "s"}

	_, err := r.Client(ctx, "a1", common.Binance, creds)
	require.NoError(t, err)
	r.RecordFailure("a1")
	r.RecordFailure("a1")

	_, err = r.Client(ctx, "a1", common.Binance, creds)
	assert.ErrorIs(t, err, ErrClientUnhealthy)
	assert.Equal(t, 1, r.Stats().UnhealthyCount)

	r.RecordSuccess("a1")
	_, err = r.Client(ctx, "a1", common.Binance, creds)
	assert.NoError(t, err)
}

func TestConnector(t *testing.T) {
	ctx := context.Background()
	durable := storage.NewMemoryStore()
	sess := session.NewManager(storage.NewSession(), time.Hour, nil, zaptest.NewLogger(t))
	store := vault.NewStore(durable, sess)

	rejected := errors.New("bad key")
	good := NewConnector(NewValidator(fakeFactory(nil, nil), time.Second, nil, nil), store, sess, zaptest.NewLogger(t))
	bad := NewConnector(NewValidator(fakeFactory(rejected, nil), time.Second, nil, nil), store, sess, zaptest.NewLogger(t))

	raw := vault.RawAccount{ExchangeID: "bybit", Name: "sub", APIKey: "key", SecretKey: "secret"}

	_, err := good.Connect(ctx, raw)
	assert.ErrorIs(t, err, session.ErrNotUnlocked)

	sess.Start("1234")
	_, err = bad.Connect(ctx, raw)
	assert.ErrorIs(t, err, ErrValidation)
	list, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "nothing stored on validation failure")

	acct, err := good.Connect(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, common.Bybit, acct.ExchangeID)
	list, err = store.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, acct.ID, list[0].ID)

	mixed, err := good.Connect(ctx, vault.RawAccount{ExchangeID: " Binance ", Name: "main", APIKey: "key", SecretKey: "secret"})
	require.NoError(t, err)
	assert.Equal(t, common.Binance, mixed.ExchangeID)
}
