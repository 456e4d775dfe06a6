package llm

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rule is one routing table entry: {match, target} (§9 — routing rules
// are data, not control flow). Match is either a literal keyword or a
// regular expression over task_type; Regex wins if non-empty.
type Rule struct {
	Match  string `yaml:"match"`
	Regex  string `yaml:"regex,omitempty"`
	Target string `yaml:"target"`

	compiled *regexp.Regexp
}

// RoutingTable is the ordered list of rules plus the fallback default,
// loaded from a YAML file separate from the TOML service config (the
// teacher's workflow.Registry is generalized the same way, swapping
// "workflow name" for "backend id").
type RoutingTable struct {
	Rules   []Rule `yaml:"rules"`
	Default string `yaml:"default"`
}

// Registry resolves a task_type to a backend id using the first matching
// rule, falling back to Default (§3: "first matching rule wins; if none
// match, fall back to a configured default").
type Registry struct {
	table RoutingTable
}

// LoadRoutingTable reads and compiles a routing table from path.
// Reloadable at process start per §3; hot-reload is explicitly not
// required, so unlike internal/config there is no watcher here.
func LoadRoutingTable(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("llm: read routing table %s: %w", path, err)
	}
	var table RoutingTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("llm: parse routing table %s: %w", path, err)
	}
	return NewRegistry(table)
}

// NewRegistry builds a Registry directly from an in-memory table, compiling
// any Regex rules the same way LoadRoutingTable does. Used for
// DefaultRoutingTable() when no routing_table_path is configured.
func NewRegistry(table RoutingTable) (*Registry, error) {
	for i := range table.Rules {
		if table.Rules[i].Regex != "" {
			re, err := regexp.Compile(table.Rules[i].Regex)
			if err != nil {
				return nil, fmt.Errorf("llm: compile rule regex %q: %w", table.Rules[i].Regex, err)
			}
			table.Rules[i].compiled = re
		}
	}
	if table.Default == "" {
		table.Default = string(ModelFastTriage)
	}
	return &Registry{table: table}, nil
}

// Resolve returns the backend id for taskType: first matching rule wins,
// otherwise the table's configured default (§3).
func (r *Registry) Resolve(taskType string) string {
	for _, rule := range r.table.Rules {
		if rule.compiled != nil {
			if rule.compiled.MatchString(taskType) {
				return rule.Target
			}
			continue
		}
		if rule.Match == taskType {
			return rule.Target
		}
	}
	return r.table.Default
}

// Snapshot returns the routing configuration with no secrets attached,
// for the models() contract (§3).
func (r *Registry) Snapshot() RoutingTable {
	return r.table
}

// DefaultRoutingTable is used by cmd/llm-router when routing_table_path is
// empty (config.Load fills an unset path with "routing.yaml", and a
// configured path whose file is missing is a load error) — it implements the spec's literal example rule set
// (triage tiers plus the smart-contract analysis/code-review task types).
func DefaultRoutingTable() RoutingTable {
	return RoutingTable{
		Rules: []Rule{
			{Match: "fast_triage", Target: string(ModelFastTriage)},
			{Match: "smart_contract_analysis", Target: string(ModelDeepReasoning)},
			{Match: "code_review", Target: string(ModelCodeAnalysis)},
			{Match: "final_report", Target: string(ModelCloudFinal)},
			{Match: "embeddings", Target: string(ModelEmbeddings)},
		},
		Default: string(ModelFastTriage),
	}
}
