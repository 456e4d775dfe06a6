package recon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bugbot-labs/bugbot/internal/explorer"
	"github.com/bugbot-labs/bugbot/internal/orchestrator"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
	"github.com/bugbot-labs/bugbot/internal/store"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestEnumerateSourcesFindsEntryContracts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Lib.sol", `pragma solidity ^0.8.0; contract Lib { }`)
	writeFile(t, dir, "Vault.sol", `pragma solidity ^0.8.0; import "./Lib.sol"; contract Vault { }`)

	sources, entries, err := enumerateSources(dir)
	if err != nil {
		t.Fatalf("enumerateSources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("len(sources) = %d, want 2", len(sources))
	}
	if len(entries) != 1 || entries[0] != "Vault" {
		t.Fatalf("entries = %v, want [Vault] (Lib is imported, not an entry point)", entries)
	}
}

func TestEnumerateSourcesIncludesVyperAndRust(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "token.vy", "# vyper source")
	writeFile(t, dir, "program/Cargo.toml", "[package]\nname = \"prog\"")

	sources, _, err := enumerateSources(dir)
	if err != nil {
		t.Fatalf("enumerateSources: %v", err)
	}
	langs := map[string]bool{}
	for _, s := range sources {
		langs[s.Language] = true
	}
	if !langs["vyper"] || !langs["rust"] {
		t.Errorf("langs = %v, want vyper and rust present", langs)
	}
}

func TestRunWithLocalPathTarget(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Vault.sol", `contract Vault { }`)

	svc := &Service{}
	result, err := svc.Run(context.Background(), orchestrator.StageRequest{
		ScanID: "s1",
		Target: store.Target{LocalPath: dir},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Kind != stagepb.KindRecon {
		t.Errorf("Kind = %q, want recon", result.Kind)
	}
	if result.Recon == nil || len(result.Recon.Sources) != 1 {
		t.Fatalf("Recon payload = %+v", result.Recon)
	}
}

func TestRunWithAddressTargetConsultsExplorer(t *testing.T) {
	called := false
	svc := &Service{
		Explorer: func(chain string) *explorer.Client {
			called = true
			return nil // explorer unreachable; still exercises the address branch
		},
	}
	result, err := svc.Run(context.Background(), orchestrator.StageRequest{
		ScanID: "s1",
		Chain:  "ethereum",
		Target: store.Target{Address: "0xabc", Chain: "ethereum"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !called {
		t.Error("expected Explorer resolver to be invoked for an address target")
	}
	if result.Recon.SurfaceMapNotes == "" {
		t.Error("expected a surface map note for an address-only target")
	}
}
