package factory

import (
	"fmt"
	"net/http"

	"github.com/kilianp07/arbitrage/auth"
	"github.com/kilianp07/arbitrage/connectors"
	wholesalemarket "github.com/kilianp07/arbitrage/connectors/clients/wholesaleMarket"
)

const (
	IDWholesaleMarket = wholesalemarket.ID
)

var (
	errUnknownClient = "unknown connector id: %s"
)

// NewPriceSource builds the price source selected by cfg.Source.
func NewPriceSource(cfg connectors.Config) (connectors.PriceSource, error) {
	switch cfg.Source {
	case IDWholesaleMarket:
		opts := []connectors.Option{
			wholesalemarket.WithBaseURL(cfg.BaseURL),
			wholesalemarket.WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}),
		}
		if cfg.Auth.Enabled() {
			opts = append(opts, wholesalemarket.WithAuth(auth.NewClientCred(cfg.Auth)))
		}
		if cfg.ConvertToKWh {
			opts = append(opts, wholesalemarket.WithKWhPrices())
		}
		return wholesalemarket.New(opts...)
	default:
		return nil, fmt.Errorf(errUnknownClient, cfg.Source)
	}
}
