package validator

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/httpx"
)

// RegisterRoutes mounts the C7 validator HTTP surface. mark is gated
// behind adminToken (§4.C7: "admin-only").
func RegisterRoutes(router chi.Router, svc *Service, adminToken string) {
	router.Post("/validate", handleSubmit(svc))
	router.Get("/validate/{id}", handleGet(svc))

	admin := httpx.RequireAdminToken(adminToken)
	router.With(admin).Post("/validate/{id}/mark", handleMark(svc))
}

func handleSubmit(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRequest
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.WriteError(w, err)
			return
		}
		job, err := svc.Submit(r.Context(), req)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusAccepted, job)
	}
}

func handleGet(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := svc.Get(r.Context(), id)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, job)
	}
}

func handleMark(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		isValidStr := r.URL.Query().Get("is_valid")
		confidenceStr := r.URL.Query().Get("confidence")
		if isValidStr == "" || confidenceStr == "" {
			httpx.WriteError(w, errs.New(errs.InvalidRequest, "is_valid and confidence query params are required"))
			return
		}
		isValid, err := strconv.ParseBool(isValidStr)
		if err != nil {
			httpx.WriteError(w, errs.New(errs.InvalidRequest, "is_valid must be a boolean"))
			return
		}
		confidence, err := strconv.ParseFloat(confidenceStr, 64)
		if err != nil {
			httpx.WriteError(w, errs.New(errs.InvalidRequest, "confidence must be a number"))
			return
		}

		job, err := svc.Mark(r.Context(), id, isValid, confidence)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, job)
	}
}
