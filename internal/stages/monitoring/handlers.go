package monitoring

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bugbot-labs/bugbot/internal/httpx"
	"github.com/bugbot-labs/bugbot/internal/orchestrator"
)

// RegisterRoutes mounts monitoring's stage-worker contract (§4.C3): POST /run.
func RegisterRoutes(router chi.Router, svc *Service) {
	router.Post("/run", handleRun(svc))
}

func handleRun(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrator.StageRequest
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.WriteError(w, err)
			return
		}
		result, err := svc.Run(r.Context(), req)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, orchestrator.StageResponse{Result: result})
	}
}
