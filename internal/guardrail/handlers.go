package guardrail

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/httpx"
)

// RegisterRoutes mounts the C6 monitor/pause HTTP surface. approve and
// reject are gated behind adminToken (§4.C6: "a valid admin token").
func RegisterRoutes(router chi.Router, reg *Registry, adminToken string) {
	router.Post("/monitor/start", handleMonitorStart(reg))
	router.Post("/monitor/stop", handleMonitorStop(reg))
	router.Get("/monitor/status", handleMonitorStatus(reg))
	router.Post("/pause/request", handlePauseRequest(reg))
	router.Get("/pause/{id}", handlePauseGet(reg))

	admin := httpx.RequireAdminToken(adminToken)
	router.With(admin).Post("/pause/approve/{id}", handlePauseApprove(reg))
	router.With(admin).Post("/pause/reject/{id}", handlePauseReject(reg))
}

type monitorStartRequest struct {
	ContractAddress string   `json:"contract_address" validate:"required"`
	Chain           string   `json:"chain" validate:"required"`
	AutoPause       bool     `json:"auto_pause"`
	AlertChannels   []string `json:"alert_channels"`
}

func handleMonitorStart(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req monitorStartRequest
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.WriteError(w, err)
			return
		}
		monitor := reg.StartMonitor(Monitor{
			ContractAddress: req.ContractAddress,
			Chain:           req.Chain,
			AutoPause:       req.AutoPause,
			AlertChannels:   req.AlertChannels,
		})
		httpx.WriteJSON(w, http.StatusOK, monitor)
	}
}

func handleMonitorStop(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contractAddress := r.URL.Query().Get("contract_address")
		chain := r.URL.Query().Get("chain")
		if contractAddress == "" || chain == "" {
			httpx.WriteError(w, errs.New(errs.InvalidRequest, "contract_address and chain are required"))
			return
		}
		if err := reg.StopMonitor(contractAddress, chain); err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	}
}

func handleMonitorStatus(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"monitors": reg.ListMonitors()})
	}
}

type pauseRequestBody struct {
	ContractAddress string `json:"contract_address" validate:"required"`
	Chain           string `json:"chain" validate:"required"`
	Reason          string `json:"reason"`
}

// handlePauseRequest is the operator-facing path (§4.C6: "or an operator
// calling POST /pause/request"); it always records requester
// "operator_token". Automated anomaly detection raises pause requests
// through Registry.RequestPauseAuto directly rather than this endpoint.
func handlePauseRequest(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pauseRequestBody
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.WriteError(w, err)
			return
		}
		pause, err := reg.RequestPause(r.Context(), req.ContractAddress, req.Chain, req.Reason)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusAccepted, pause)
	}
}

func handlePauseGet(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		pause, err := reg.Get(id)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, pause)
	}
}

func handlePauseApprove(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		pause, err := reg.Approve(r.Context(), id)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, pause)
	}
}

func handlePauseReject(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		pause, err := reg.Reject(id)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, pause)
	}
}
