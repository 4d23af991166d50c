package exchange_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prxgr4mmer/perps-metrics-service/internal/adapters/exchange"
	"github.com/prxgr4mmer/perps-metrics-service/internal/domain"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/fixedpoint"
)

func usd(s string) fixedpoint.Amount {
	a, err := fixedpoint.Parse(s, domain.USDDecimals)
	if err != nil {
		panic(err)
	}
	return a
}

func TestClient_FetchPrices(t *testing.T) {
	t.Run("maps pairs back to assets", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
			assert.Equal(t, `["ETHUSDT","GOVUSDT"]`, r.URL.Query().Get("symbols"))

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode([]map[string]string{
				{"symbol": "GOVUSDT", "price": "1.2345"},
				{"symbol": "ETHUSDT", "price": "2345.67"},
			})
		}))
		defer server.Close()

		client := exchange.NewClient(
			map[string]string{"gov": "govusdt", "ETH": "ETHUSDT"},
			exchange.WithBaseURL(server.URL),
			exchange.WithTimeout(5*time.Second),
		)

		obs, err := client.FetchPrices(context.Background())
		require.NoError(t, err)
		require.Len(t, obs, 2)

		byAsset := make(map[string]domain.PriceObservation)
		for _, o := range obs {
			byAsset[o.Asset] = o
		}

		gov := byAsset["GOV"]
		assert.Equal(t, exchange.DefaultSourceID, gov.Source)
		assert.True(t, gov.Value.Equal(usd("1.2345")))
		assert.Equal(t, domain.USDDecimals, gov.Value.Decimals())

		assert.True(t, byAsset["ETH"].Value.Equal(usd("2345.67")))
	})

	t.Run("skips bad prices and unknown pairs", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode([]map[string]string{
				{"symbol": "GOVUSDT", "price": "not-a-number"},
				{"symbol": "ETHUSDT", "price": "0"},
				{"symbol": "BTCUSDT", "price": "65000"},
			})
		}))
		defer server.Close()

		client := exchange.NewClient(
			map[string]string{"GOV": "GOVUSDT", "ETH": "ETHUSDT"},
			exchange.WithBaseURL(server.URL),
		)

		obs, err := client.FetchPrices(context.Background())
		require.NoError(t, err)
		assert.Empty(t, obs)
	})

	t.Run("retries rate limiting", func(t *testing.T) {
		callCount := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callCount++
			if callCount <= 2 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			json.NewEncoder(w).Encode([]map[string]string{
				{"symbol": "GOVUSDT", "price": "1.5"},
			})
		}))
		defer server.Close()

		client := exchange.NewClient(
			map[string]string{"GOV": "GOVUSDT"},
			exchange.WithBaseURL(server.URL),
			exchange.WithRetry(3, 10*time.Millisecond),
		)

		obs, err := client.FetchPrices(context.Background())
		require.NoError(t, err)
		require.Len(t, obs, 1)
		assert.Equal(t, 3, callCount) // Retried twice
	})

	t.Run("does not retry a rejected request", func(t *testing.T) {
		callCount := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callCount++
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := exchange.NewClient(
			map[string]string{"GOV": "GOVUSDT"},
			exchange.WithBaseURL(server.URL),
			exchange.WithRetry(3, 10*time.Millisecond),
		)

		_, err := client.FetchPrices(context.Background())
		assert.ErrorIs(t, err, domain.ErrInvalidResponse)
		assert.Equal(t, 1, callCount)
	})

	t.Run("nothing configured", func(t *testing.T) {
		client := exchange.NewClient(nil)
		obs, err := client.FetchPrices(context.Background())
		require.NoError(t, err)
		assert.Empty(t, obs)
	})
}

func TestClient_ID(t *testing.T) {
	client := exchange.NewClient(nil, exchange.WithSourceID("cex"))
	assert.Equal(t, domain.SourceID("cex"), client.ID())
}

func TestClient_Ping(t *testing.T) {
	t.Run("successful ping", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v3/ping", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := exchange.NewClient(nil, exchange.WithBaseURL(server.URL))

		err := client.Ping(context.Background())
		require.NoError(t, err)
	})

	t.Run("ping failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := exchange.NewClient(
			nil,
			exchange.WithBaseURL(server.URL),
			exchange.WithRetry(1, 10*time.Millisecond),
		)

		err := client.Ping(context.Background())
		assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	})
}
