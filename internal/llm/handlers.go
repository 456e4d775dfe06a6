package llm

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bugbot-labs/bugbot/internal/httpx"
)

// RegisterRoutes mounts the C2 HTTP surface: generate, embed, health,
// models (§3's contract list).
func RegisterRoutes(router chi.Router, r *Router) {
	router.Post("/generate", handleGenerate(r))
	router.Post("/embed", handleEmbed(r))
	router.Get("/health", handleHealth(r))
	router.Get("/models", handleModels(r))
}

func handleGenerate(r *Router) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var task Task
		if err := httpx.DecodeAndValidate(req, &task); err != nil {
			httpx.WriteError(w, err)
			return
		}
		resp, err := r.Generate(req.Context(), task)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
	}
}

type embedRequest struct {
	Texts []string `json:"texts" validate:"required,min=1"`
}

func handleEmbed(r *Router) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body embedRequest
		if err := httpx.DecodeAndValidate(req, &body); err != nil {
			httpx.WriteError(w, err)
			return
		}
		vectors, err := r.Embed(req.Context(), body.Texts)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"vectors": vectors})
	}
}

func handleHealth(r *Router) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, r.Health(req.Context()))
	}
}

func handleModels(r *Router) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, r.Models())
	}
}
