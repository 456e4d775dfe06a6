package config

import "testing"

func TestIsSupportedChain(t *testing.T) {
	if !IsSupportedChain("ethereum") {
		t.Error("ethereum should be supported")
	}
	if IsSupportedChain("dogecoin") {
		t.Error("dogecoin should not be supported")
	}
}

func TestLoadRejectsUnsupportedChainName(t *testing.T) {
	path := writeTestConfig(t, `
[chains.dogecoin]
enabled = true
providers = ["https://doge.example"]

[store]
driver = "sqlite"
sqlite_path = "test.db"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for chain outside the supported set")
	}
}

func TestDetectChainEVMFamily(t *testing.T) {
	cfg := &Config{
		Chains: map[string]ChainSpec{
			"ethereum": {Enabled: true},
			"polygon":  {Enabled: true},
			"solana":   {Enabled: true},
		},
	}

	matches := cfg.DetectChain("0x1234567890123456789012345678901234567890")
	if len(matches) != 2 {
		t.Fatalf("expected 2 EVM-family matches, got %v", matches)
	}
}

func TestDetectChainSolana(t *testing.T) {
	cfg := &Config{
		Chains: map[string]ChainSpec{
			"solana":   {Enabled: true},
			"ethereum": {Enabled: true},
		},
	}

	matches := cfg.DetectChain("DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy")
	if len(matches) != 1 || matches[0] != "solana" {
		t.Fatalf("expected solana-only match, got %v", matches)
	}
}

func TestDetectChainDisabledChainExcluded(t *testing.T) {
	cfg := &Config{
		Chains: map[string]ChainSpec{
			"ethereum": {Enabled: false},
		},
	}
	if matches := cfg.DetectChain("0x1234567890123456789012345678901234567890"); len(matches) != 0 {
		t.Fatalf("expected no matches for disabled chain, got %v", matches)
	}
}
