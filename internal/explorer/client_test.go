package explorer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bugbot-labs/bugbot/internal/errs"
)

func TestFetchABISuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "getabi":
			w.Write([]byte(`{"status":"1","message":"OK","result":"[{\"type\":\"function\"}]"}`))
		case "getsourcecode":
			w.Write([]byte(`{"status":"1","result":[{"ContractName":"Vault"}]}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	info, err := c.FetchABI(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("FetchABI: %v", err)
	}
	if info.Name != "Vault" {
		t.Errorf("Name = %q, want Vault", info.Name)
	}
	if info.ABIJSON == "" {
		t.Error("expected non-empty ABI JSON")
	}
}

func TestFetchABIUnverifiedReturnsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"0","message":"Contract source code not verified","result":""}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.FetchABI(context.Background(), "0xabc")
	if errs.KindOf(err) != errs.NotFound {
		t.Fatalf("KindOf(err) = %v, want NotFound", errs.KindOf(err))
	}
}

func TestFetchABIWithoutConfiguredExplorer(t *testing.T) {
	c := New("", "")
	_, err := c.FetchABI(context.Background(), "0xabc")
	if errs.KindOf(err) != errs.BackendUnavailable {
		t.Fatalf("KindOf(err) = %v, want BackendUnavailable", errs.KindOf(err))
	}
}
