package addressscan

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/explorer"
	"github.com/bugbot-labs/bugbot/internal/orchestrator"
)

func testConfig() *config.Config {
	return &config.Config{
		Chains: map[string]config.ChainSpec{
			"ethereum": {Enabled: true, Providers: []string{"http://eth.example"}},
			"bsc":      {Enabled: true, Providers: []string{"http://bsc.example"}},
			"solana":   {Enabled: true, Providers: []string{"http://sol.example"}},
			"polygon":  {Enabled: false, Providers: []string{"http://poly.example"}},
		},
	}
}

func TestResolveChainHonorsExplicitHint(t *testing.T) {
	cfg := testConfig()
	chain, err := ResolveChain(cfg, "0x0000000000000000000000000000000000000001", "bsc")
	if err != nil {
		t.Fatalf("ResolveChain: %v", err)
	}
	if chain != "bsc" {
		t.Errorf("chain = %q, want bsc", chain)
	}
}

func TestResolveChainRejectsUnsupportedHint(t *testing.T) {
	cfg := testConfig()
	if _, err := ResolveChain(cfg, "0xabc", "not-a-real-chain"); !errs.InvalidRequest.Is(err) {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}

func TestResolveChainInfersSolanaFromBase58(t *testing.T) {
	cfg := testConfig()
	chain, err := ResolveChain(cfg, "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", "")
	if err != nil {
		t.Fatalf("ResolveChain: %v", err)
	}
	if chain != "solana" {
		t.Errorf("chain = %q, want solana", chain)
	}
}

func TestResolveChainIsAmbiguousAcrossEVMChains(t *testing.T) {
	cfg := testConfig()
	_, err := ResolveChain(cfg, "0x0000000000000000000000000000000000000001", "")
	if !errs.InvalidRequest.Is(err) {
		t.Fatalf("expected invalid_request for an ambiguous EVM address, got %v", err)
	}
}

func TestResolveChainFailsWhenNothingMatches(t *testing.T) {
	cfg := testConfig()
	if _, err := ResolveChain(cfg, "not-an-address-at-all", ""); !errs.InvalidRequest.Is(err) {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}

type fakeFetcher struct {
	files []explorer.SourceFile
	err   error
}

func (f *fakeFetcher) FetchSourceCode(ctx context.Context, address string) ([]explorer.SourceFile, error) {
	return f.files, f.err
}

type fakeDecompiler struct {
	called bool
	files  []explorer.SourceFile
	err    error
}

func (f *fakeDecompiler) Decompile(ctx context.Context, address, chain string) ([]explorer.SourceFile, error) {
	f.called = true
	return f.files, f.err
}

func newStaticStub(t *testing.T, body string) *orchestrator.StageClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return orchestrator.NewStageClient(srv.URL, 0)
}

func TestScanAddressReturnsSourceNotFoundWithoutForceDecompile(t *testing.T) {
	decompiler := &fakeDecompiler{}
	svc := &Service{
		Config:           &config.Config{Chains: map[string]config.ChainSpec{"ethereum": {Enabled: true, Providers: []string{"x"}}}},
		Explorers:        map[string]SourceFetcher{"ethereum": &fakeFetcher{err: errors.New("not verified")}},
		DecompileAdapter: decompiler,
	}

	result, err := svc.ScanAddress(context.Background(), Request{Address: "0xabc", Chain: "ethereum"})
	if err != nil {
		t.Fatalf("ScanAddress: %v", err)
	}
	if result.Status != "source_not_found" {
		t.Fatalf("Status = %q, want source_not_found", result.Status)
	}
	if result.Suggestion == "" {
		t.Errorf("expected a non-empty suggestion")
	}
	if decompiler.called {
		t.Errorf("decompile adapter should not be invoked without force_decompile")
	}
}

func TestScanAddressUsesDecompileAdapterWhenForced(t *testing.T) {
	decompiler := &fakeDecompiler{files: []explorer.SourceFile{{Name: "0xabc.bytecode", Content: "0x6001"}}}
	static := newStaticStub(t, `{"result":{"kind":"static","stage_status":"ok"}}`)

	svc := &Service{
		Config:           &config.Config{Chains: map[string]config.ChainSpec{"ethereum": {Enabled: true, Providers: []string{"x"}}}},
		Explorers:        map[string]SourceFetcher{"ethereum": &fakeFetcher{err: errors.New("not verified")}},
		DecompileAdapter: decompiler,
		StaticClient:     static,
	}

	result, err := svc.ScanAddress(context.Background(), Request{Address: "0xabc", Chain: "ethereum", ForceDecompile: true})
	if err != nil {
		t.Fatalf("ScanAddress: %v", err)
	}
	if !decompiler.called {
		t.Fatalf("expected decompile adapter to be invoked")
	}
	if result.Status != "ok" || result.StageResult == nil {
		t.Fatalf("result = %+v, want ok with a stage result", result)
	}
}

func TestScanAddressFeedsVerifiedSourceToStaticStage(t *testing.T) {
	static := newStaticStub(t, `{"result":{"kind":"static","stage_status":"ok"}}`)
	svc := &Service{
		Config: &config.Config{Chains: map[string]config.ChainSpec{"ethereum": {Enabled: true, Providers: []string{"x"}}}},
		Explorers: map[string]SourceFetcher{
			"ethereum": &fakeFetcher{files: []explorer.SourceFile{{Name: "Token.sol", Content: "contract Token {}"}}},
		},
		StaticClient: static,
	}

	result, err := svc.ScanAddress(context.Background(), Request{Address: "0xabc", Chain: "ethereum"})
	if err != nil {
		t.Fatalf("ScanAddress: %v", err)
	}
	if result.Status != "ok" || result.StageResult == nil {
		t.Fatalf("result = %+v, want ok with a stage result", result)
	}
}
