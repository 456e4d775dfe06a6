package llm

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRoutingTable(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routing.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write routing table: %v", err)
	}
	return path
}

const sampleRoutingTable = `
rules:
  - match: fast_triage
    target: local/fast_triage
  - regex: "^smart_contract_.*"
    target: local/deep_reasoning
  - match: final_report
    target: cloud/final_reasoning
default: local/fast_triage
`

func TestResolveExactMatch(t *testing.T) {
	path := writeRoutingTable(t, sampleRoutingTable)
	reg, err := LoadRoutingTable(path)
	if err != nil {
		t.Fatalf("LoadRoutingTable: %v", err)
	}
	if got := reg.Resolve("fast_triage"); got != "local/fast_triage" {
		t.Errorf("Resolve(fast_triage) = %q, want local/fast_triage", got)
	}
}

func TestResolveRegexMatch(t *testing.T) {
	path := writeRoutingTable(t, sampleRoutingTable)
	reg, err := LoadRoutingTable(path)
	if err != nil {
		t.Fatalf("LoadRoutingTable: %v", err)
	}
	if got := reg.Resolve("smart_contract_analysis"); got != "local/deep_reasoning" {
		t.Errorf("Resolve(smart_contract_analysis) = %q, want local/deep_reasoning", got)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	path := writeRoutingTable(t, sampleRoutingTable)
	reg, err := LoadRoutingTable(path)
	if err != nil {
		t.Fatalf("LoadRoutingTable: %v", err)
	}
	if got := reg.Resolve("some_unknown_task"); got != "local/fast_triage" {
		t.Errorf("Resolve(unknown) = %q, want default local/fast_triage", got)
	}
}

func TestResolveFirstRuleWins(t *testing.T) {
	path := writeRoutingTable(t, `
rules:
  - match: dup
    target: local/fast_triage
  - match: dup
    target: cloud/final_reasoning
default: local/fast_triage
`)
	reg, err := LoadRoutingTable(path)
	if err != nil {
		t.Fatalf("LoadRoutingTable: %v", err)
	}
	if got := reg.Resolve("dup"); got != "local/fast_triage" {
		t.Errorf("Resolve(dup) = %q, want first rule's target", got)
	}
}

func TestLoadRoutingTableMissingFile(t *testing.T) {
	if _, err := LoadRoutingTable(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultRoutingTableResolvesKnownTaskTypes(t *testing.T) {
	reg := &Registry{table: DefaultRoutingTable()}
	cases := map[string]string{
		"fast_triage":             string(ModelFastTriage),
		"smart_contract_analysis": string(ModelDeepReasoning),
		"code_review":             string(ModelCodeAnalysis),
		"final_report":            string(ModelCloudFinal),
		"embeddings":              string(ModelEmbeddings),
	}
	for taskType, want := range cases {
		if got := reg.Resolve(taskType); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", taskType, got, want)
		}
	}
}
