package mlops

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bugbot-labs/bugbot/internal/httpx"
)

// RegisterRoutes mounts the C9 mlops HTTP surface.
func RegisterRoutes(router chi.Router, svc *Service) {
	router.Post("/mlops/ingest", handleIngest(svc))
	router.Post("/mlops/train", handleTrain(svc))
	router.Post("/mlops/generate-rules", handleGenerateRules(svc))
}

func handleIngest(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.WriteError(w, err)
			return
		}
		resp, err := svc.Ingest(r.Context(), req)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
	}
}

func handleTrain(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TrainRequest
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.WriteError(w, err)
			return
		}
		resp, err := svc.Train(r.Context(), req)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
	}
}

func handleGenerateRules(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRulesRequest
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.WriteError(w, err)
			return
		}
		resp, err := svc.GenerateRules(r.Context(), req)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
	}
}
