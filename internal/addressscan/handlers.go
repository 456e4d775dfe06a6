package addressscan

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/httpx"
)

// RegisterRoutes mounts the C8 address-scanner HTTP surface.
func RegisterRoutes(router chi.Router, svc *Service) {
	router.Post("/scan-address", handleScanAddress(svc))
	router.Get("/supported-chains", handleSupportedChains())
}

func handleScanAddress(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.WriteError(w, err)
			return
		}
		result, err := svc.ScanAddress(r.Context(), req)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, result)
	}
}

func handleSupportedChains() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"chains": config.SupportedChains})
	}
}
