package indexer

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bugbot-labs/bugbot/internal/httpx"
)

// RegisterRoutes mounts the C9 indexer HTTP and websocket surface.
func RegisterRoutes(router chi.Router, svc *Service) {
	router.Post("/index/start", handleStart(svc))
	router.Post("/index/query", handleQuery(svc))
	router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		svc.Hub().ServeWS(w, r)
	})
}

func handleStart(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartRequest
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.WriteError(w, err)
			return
		}
		resp, err := svc.Start(r.Context(), "idx_"+uuid.NewString(), req)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
	}
}

func handleQuery(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, svc.Query(req))
	}
}
