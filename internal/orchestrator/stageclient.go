package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bugbot-labs/bugbot/internal/errs"
)

// StageURL turns a StageSpec.Addr (a bind address such as ":8082", or
// already a full URL when the operator points one service at another
// host) into the URL a caller should dial. Every cmd/* daemon uses the
// same Addr both to bind its own listener and, here, to let sibling
// services reach it, which only works for same-host deployments without
// an explicit scheme — multi-host deployments should set Addr to a full
// "http://host:port" value in config instead.
func StageURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://localhost" + addr
}

// StageClient calls one stage worker's HTTP contract (§4.C3). Each of the
// six pipeline stages gets its own StageClient pointed at its configured
// address.
type StageClient struct {
	addr       string
	httpClient *http.Client
}

// NewStageClient builds a client for a stage worker reachable at addr
// (e.g. "http://recon:8081"), bounding every call by timeout.
func NewStageClient(addr string, timeout time.Duration) *StageClient {
	return &StageClient{
		addr:       addr,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Run posts req to the stage worker's /run endpoint and decodes its
// StageResponse. A non-2xx status is treated as a fatal stage failure
// (§4.C5 "Failure semantics": "HTTP 5xx"); a decoded body carrying
// stage_status=partial is returned as-is for the caller to inspect.
func (c *StageClient) Run(ctx context.Context, req StageRequest) (StageResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return StageResponse{}, errs.Wrap(errs.Internal, "encoding stage request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.addr+"/run", bytes.NewReader(body))
	if err != nil {
		return StageResponse{}, errs.Wrap(errs.Internal, "building stage request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return StageResponse{}, errs.Wrap(errs.StageFailure, "calling stage worker", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return StageResponse{}, errs.New(errs.StageFailure, fmt.Sprintf("stage worker returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return StageResponse{}, errs.New(errs.InvalidRequest, fmt.Sprintf("stage worker rejected request: %d", resp.StatusCode))
	}

	var out StageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StageResponse{}, errs.Wrap(errs.StageFailure, "decoding stage response", err)
	}
	return out, nil
}

// Health pings the stage worker's /health endpoint, used by the
// orchestrator's own GET /health rollup (§4.C5).
func (c *StageClient) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addr+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
