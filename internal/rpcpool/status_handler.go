package rpcpool

import (
	"net/http"

	"github.com/bugbot-labs/bugbot/internal/httpx"
)

// StatusHandler serves GET /rpc-status (E4): per-chain, per-provider
// status so an operator can see which providers are healthy, degraded, or
// circuit-open without reading metrics.
func StatusHandler(pools map[string]*Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]PoolStatus, 0, len(pools))
		for _, p := range pools {
			out = append(out, p.Status())
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"chains": out})
	}
}
