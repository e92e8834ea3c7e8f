package gateway

import (
	"fmt"

	"github.com/PiotrGNN/kraken/internal/environment"
)

// Endpoints are the REST and websocket roots of one venue in one environment.
type Endpoints struct {
	REST string `json:"rest"`
	WS   string `json:"ws,omitempty"`
}

// URLs is the venue table. Binance entries are the USDT-M futures hosts.
var URLs = map[string]map[environment.Environment]Endpoints{
	"bybit": {
		environment.Testnet: {REST: "https://api-testnet.bybit.com", WS: "wss://stream-testnet.bybit.com"},
		environment.Mainnet: {REST: "https://api.bybit.com", WS: "wss://stream.bybit.com"},
	},
	"okx": {
		environment.Testnet: {REST: "https://www.okx.com/api/v5/mock", WS: "wss://wspap.okx.com:8443/ws/v5/public?brokerId=9999"},
		environment.Mainnet: {REST: "https://www.okx.com/api/v5", WS: "wss://ws.okx.com:8443/ws/v5/public"},
	},
	"binance": {
		environment.Testnet: {REST: "https://testnet.binancefuture.com", WS: "wss://stream.binancefuture.com/ws"},
		environment.Mainnet: {REST: "https://fapi.binance.com", WS: "wss://fstream.binance.com/ws"},
	},
}

// Lookup returns the endpoints for exchange in env.
func Lookup(exchange string, env environment.Environment) (Endpoints, error) {
	byEnv, ok := URLs[exchange]
	if !ok {
		return Endpoints{}, fmt.Errorf("%w: %s", ErrUnknownExchange, exchange)
	}
	ep, ok := byEnv[env]
	if !ok {
		return Endpoints{}, fmt.Errorf("%w: %s", environment.ErrInvalidEnvironment, env)
	}
	return ep, nil
}
