package profit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/cache"
)

// PriceProvider supplies spot prices in USD for coin symbols
type PriceProvider interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// coinIDs maps coin symbols to CoinGecko identifiers
var coinIDs = map[string]string{
	"BTC":  "bitcoin",
	"LTC":  "litecoin",
	"ETC":  "ethereum-classic",
	"XMR":  "monero",
	"ETH":  "ethereum",
	"DOGE": "dogecoin",
	"ZEC":  "zcash",
}

// CoinGeckoProvider fetches USD prices from the CoinGecko simple-price API.
// Responses are cached so estimate cycles well inside the cache TTL never
// hit the network.
type CoinGeckoProvider struct {
	logger *zap.Logger
	client *http.Client
	prices *cache.Cache
}

// NewCoinGeckoProvider creates a provider backed by the given price cache
func NewCoinGeckoProvider(logger *zap.Logger, prices *cache.Cache) *CoinGeckoProvider {
	return &CoinGeckoProvider{
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
		prices: prices,
	}
}

// GetPrice fetches the USD price for one symbol
func (p *CoinGeckoProvider) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := p.GetPrices(ctx, []string{symbol})
	if err != nil {
		return 0, err
	}

	price, ok := prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

// GetPrices fetches USD prices for the given symbols, serving cached values
// where available.
func (p *CoinGeckoProvider) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	result := make(map[string]float64, len(symbols))
	var missing []string

	for _, symbol := range symbols {
		if price, ok := p.cached(symbol); ok {
			result[symbol] = price
		} else {
			missing = append(missing, symbol)
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := p.fetch(ctx, missing)
	if err != nil {
		// Partial cache hits are still useful to the estimator
		if len(result) > 0 {
			p.logger.Warn("Price fetch failed, serving cached subset",
				zap.Int("cached", len(result)),
				zap.Error(err),
			)
			return result, nil
		}
		return nil, err
	}

	for symbol, price := range fetched {
		result[symbol] = price
		p.store(symbol, price)
	}
	return result, nil
}

func (p *CoinGeckoProvider) cached(symbol string) (float64, bool) {
	if p.prices == nil {
		return 0, false
	}
	raw, ok := p.prices.Get("price:" + symbol)
	if !ok {
		return 0, false
	}
	price, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

func (p *CoinGeckoProvider) store(symbol string, price float64) {
	if p.prices == nil {
		return
	}
	value := strconv.FormatFloat(price, 'f', -1, 64)
	if err := p.prices.Set("price:"+symbol, []byte(value)); err != nil {
		p.logger.Warn("Price cache write failed",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
	}
}

func (p *CoinGeckoProvider) fetch(ctx context.Context, symbols []string) (map[string]float64, error) {
	ids := make([]string, 0, len(symbols))
	idToSymbol := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		id, ok := coinIDs[strings.ToUpper(symbol)]
		if !ok {
			p.logger.Warn("Unknown coin symbol", zap.String("symbol", symbol))
			continue
		}
		ids = append(ids, id)
		idToSymbol[id] = strings.ToUpper(symbol)
	}
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	url := fmt.Sprintf("https://api.coingecko.com/api/v3/simple/price?ids=%s&vs_currencies=usd",
		strings.Join(ids, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var data map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse price response: %w", err)
	}

	result := make(map[string]float64, len(data))
	for id, entry := range data {
		if usd, ok := entry["usd"]; ok {
			result[idToSymbol[id]] = usd
		}
	}

	p.logger.Debug("Fetched prices",
		zap.Int("requested", len(symbols)),
		zap.Int("received", len(result)),
	)
	return result, nil
}

// StaticProvider serves fixed prices from configuration. The default set
// covers the built-in algorithms, so the engine works offline.
type StaticProvider struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewStaticProvider creates a provider from the given price table. Missing
// entries fall back to built-in defaults.
func NewStaticProvider(prices map[string]float64) *StaticProvider {
	table := map[string]float64{
		"BTC": 45000.0,
		"LTC": 150.0,
		"ETC": 25.0,
		"XMR": 200.0,
	}
	for symbol, price := range prices {
		table[strings.ToUpper(symbol)] = price
	}
	return &StaticProvider{prices: table}
}

// GetPrice returns the fixed price for a symbol
func (p *StaticProvider) GetPrice(_ context.Context, symbol string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	price, ok := p.prices[strings.ToUpper(symbol)]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

// GetPrices returns fixed prices for the given symbols
func (p *StaticProvider) GetPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		if price, ok := p.prices[strings.ToUpper(symbol)]; ok {
			result[symbol] = price
		}
	}
	return result, nil
}

// SetPrice updates one price. Used by tests to steer decisions.
func (p *StaticProvider) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[strings.ToUpper(symbol)] = price
}
