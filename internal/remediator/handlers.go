package remediator

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bugbot-labs/bugbot/internal/httpx"
)

// RegisterRoutes mounts the C9 remediator HTTP surface.
func RegisterRoutes(router chi.Router, svc *Service) {
	router.Post("/remediate", handleRemediate(svc))
}

func handleRemediate(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.WriteError(w, err)
			return
		}
		resp, err := svc.Remediate(r.Context(), req)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
	}
}
