package gateway

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"vault-core/pkg/exchanges/binance"
	"vault-core/pkg/exchanges/bitget"
	"vault-core/pkg/exchanges/bybit"
	"vault-core/pkg/exchanges/common"
)

// Factory creates an exchange client for one set of credentials.
type Factory func(id common.ExchangeID, creds common.Credentials) (common.Client, error)

// FactoryOptions tune the clients NewFactory builds.
type FactoryOptions struct {
	Testnet bool
	Timeout time.Duration
	Logger  *zap.Logger
	// HTTPClient overrides the per-client transport.
	HTTPClient *http.Client
	// BaseURLs overrides venue endpoints, keyed by exchange.
	BaseURLs map[common.ExchangeID]string
}

// NewFactory returns a Factory for the supported venues.
func NewFactory(opts FactoryOptions) Factory {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(id common.ExchangeID, creds common.Credentials) (common.Client, error) {
		httpClient := opts.HTTPClient
		if httpClient == nil {
			httpClient = common.NewHTTPClient(opts.Timeout)
		}
		base := opts.BaseURLs[id]

		switch id {
		case common.Binance:
			return binance.NewClient(binance.Config{
				Credentials:  creds,
				Testnet:      opts.Testnet,
				HTTPClient:   httpClient,
				Logger:       logger,
				USDMBaseURL:  base,
				CoinMBaseURL: base,
			})

		case common.Bybit:
			return bybit.NewClient(bybit.Config{
				Credentials: creds,
				Testnet:     opts.Testnet,
				HTTPClient:  httpClient,
				Logger:      logger,
				BaseURL:     base,
			})

		case common.Bitget:
			return bitget.NewClient(bitget.Config{
				Credentials: creds,
				Testnet:     opts.Testnet,
				HTTPClient:  httpClient,
				Logger:      logger,
				BaseURL:     base,
			})

		default:
			return nil, fmt.Errorf("%w: %s", common.ErrUnsupportedExchange, id)
		}
	}
}
