package wholesalemarket

import (
	"fmt"
	"net/http"

	"github.com/kilianp07/arbitrage/auth"
	"github.com/kilianp07/arbitrage/connectors"
)

func WithBaseURL(u string) connectors.Option {
	return func(c connectors.PriceSource) error {
		if w, ok := c.(*Client); ok {
			if u != "" {
				w.baseURL = u
			}
			return nil
		}
		return fmt.Errorf(connectors.ErrIncompatibleOption, "WithBaseURL", ID)
	}
}

// WithAuth sends a client-credentials bearer token with every request.
func WithAuth(cred *auth.ClientCred) connectors.Option {
	return func(c connectors.PriceSource) error {
		if w, ok := c.(*Client); ok {
			w.auth = cred
			return nil
		}
		return fmt.Errorf(connectors.ErrIncompatibleOption, "WithAuth", ID)
	}
}

func WithHTTPClient(hc *http.Client) connectors.Option {
	return func(c connectors.PriceSource) error {
		if w, ok := c.(*Client); ok {
			if hc != nil {
				w.httpClient = hc
			}
			return nil
		}
		return fmt.Errorf(connectors.ErrIncompatibleOption, "WithHTTPClient", ID)
	}
}

// WithKWhPrices converts the €/MWh quotes of the API to €/kWh.
func WithKWhPrices() connectors.Option {
	return func(c connectors.PriceSource) error {
		if w, ok := c.(*Client); ok {
			w.divisor = 1000
			return nil
		}
		return fmt.Errorf(connectors.ErrIncompatibleOption, "WithKWhPrices", ID)
	}
}
