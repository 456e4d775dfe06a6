// Package config loads and validates the bugbot TOML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration for every bugbot service. Each daemon
// (cmd/orchestrator, cmd/llm-router, cmd/validator, the stage workers, ...)
// loads the same file and reads only the sections it cares about.
type Config struct {
	General    General               `toml:"general"`
	Chains     map[string]ChainSpec  `toml:"chains"`
	RPCPool    RPCPool               `toml:"rpc_pool"`
	LLM        LLM                   `toml:"llm"`
	Orch       Orchestrator          `toml:"orchestrator"`
	Stages     map[string]StageSpec  `toml:"stages"`
	ScanConfig ScanDefaults          `toml:"scan_config"`
	Validator  Validator             `toml:"validator"`
	Guardrail  Guardrail             `toml:"guardrail"`
	Remediator Remediator            `toml:"remediator"`
	Notify     Notify                `toml:"notify"`
	API        API                   `toml:"api"`
	Store      Store                 `toml:"store"`
}

// General holds process-wide settings common to every service.
type General struct {
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"` // "json" or "text"
	AdminToken   string `toml:"admin_token"`
	HTTPAddr     string `toml:"http_addr"`
	MetricsAddr  string `toml:"metrics_addr"`
	OTLPEndpoint string `toml:"otlp_endpoint"` // empty disables tracing export
}

// ChainSpec describes one chain in the allowlist (§3, §4.C1, §4.C8).
type ChainSpec struct {
	Enabled        bool     `toml:"enabled"`
	ExplorerAPIURL string   `toml:"explorer_api_url"`
	ExplorerAPIKey string   `toml:"explorer_api_key"`
	Providers      []string `toml:"providers"`       // primary then backups, in failover order
	AddressPattern string   `toml:"address_pattern"` // regex used by the address scanner to recognize this chain
}

// RPCPool configures the provider pool and circuit breaker (§4.C1).
type RPCPool struct {
	CircuitThreshold       int      `toml:"circuit_threshold"`
	CircuitTimeout         Duration `toml:"circuit_timeout"`
	HealthCheckInterval    Duration `toml:"health_check_interval"`
	RequestTimeout         Duration `toml:"request_timeout"`
	MaxRetriesPerRequest   int      `toml:"max_retries_per_request"`
}

// LLM configures the router (§4.C2): backend endpoints, the routing-table
// file location, and retry/backoff shared by every backend.
type LLM struct {
	LocalURL        string   `toml:"local_url"`
	CloudAPIKey     string   `toml:"cloud_api_key"`
	CloudModel      string   `toml:"cloud_model"`
	RoutingTablePath string  `toml:"routing_table_path"`
	RequestTimeout   Duration `toml:"request_timeout"`
	MaxRetries       int      `toml:"max_retries"`
	RetryBackoffBase Duration `toml:"retry_backoff_base"`
	RetryMaxDelay    Duration `toml:"retry_max_delay"`
}

// Orchestrator configures the scan workflow driver (§4.C5).
type Orchestrator struct {
	MaxConcurrentScans int      `toml:"max_concurrent_scans"`
	QueueSize          int      `toml:"queue_size"`
	TemporalHostPort   string   `toml:"temporal_host_port"`
	TemporalNamespace  string   `toml:"temporal_namespace"`
	TaskQueue          string   `toml:"task_queue"`
	StartToCloseBuffer Duration `toml:"start_to_close_buffer"` // added atop each stage's own timeout for the activity option
}

// StageSpec configures one of the six pipeline stage workers (§4.C5.a-f).
type StageSpec struct {
	Addr      string         `toml:"addr"`
	Timeout   Duration       `toml:"timeout"`
	Analyzers []AnalyzerSpec `toml:"analyzers"` // static stage only
	Harness   AnalyzerSpec   `toml:"harness"`   // fuzzing stage only

	// GeneratePropertyTests enables fuzzing's §4.C5.c path (a): ask C2 to
	// draft property tests before invoking Harness.
	GeneratePropertyTests bool `toml:"generate_property_tests"`

	// Monitoring-only anomaly thresholds (§4.C5.d).
	LargeValueWei    string   `toml:"large_value_wei"`
	BlockDriftBlocks uint64   `toml:"block_drift_blocks"`
	PollInterval     Duration `toml:"poll_interval"`
}

// AnalyzerSpec configures one external static analyzer invoked as a
// black-box command by the static stage (§4.C5.b).
type AnalyzerSpec struct {
	Name    string   `toml:"name"`
	Command []string `toml:"command"`
	Timeout Duration `toml:"timeout"`
}

// ScanDefaults are the defaults applied to a scan request's scan_config
// object when the caller omits fields (§4.C5, §6). A request that carries a
// scan_config always supplies enable_fuzzing and allow_live itself, and a
// zero monitor_duration_minutes or an empty sandbox_type or list in it keeps
// the default.
type ScanDefaults struct {
	EnableFuzzing          bool     `toml:"enable_fuzzing"`
	MonitorDurationMinutes int      `toml:"monitor_duration_minutes"`
	SandboxType            string   `toml:"sandbox_type"`
	AllowLive              bool     `toml:"allow_live"`
	ReportFormats          []string `toml:"report_formats"`
	NotifyChannels         []string `toml:"notify_channels"`
}

// Validator configures the validation job queue and sandbox pool (§4.C7).
type Validator struct {
	MaxConcurrentValidations int      `toml:"max_concurrent_validations"`
	DefaultTimeout           Duration `toml:"default_timeout"`
	MaxTimeout               Duration `toml:"max_timeout"`
	SandboxImage             string   `toml:"sandbox_image"`
	SandboxMemoryMB          int64    `toml:"sandbox_memory_mb"`
	SandboxCPUQuota          int64    `toml:"sandbox_cpu_quota"`
}

// Guardrail configures the monitor registry and pause workflow (§4.C6).
type Guardrail struct {
	SweepInterval  Duration `toml:"sweep_interval"`
	PauseTimeout   Duration `toml:"pause_timeout"`
	DefaultAdapter string   `toml:"default_adapter"` // "webhook", "none"
	WebhookURL     string   `toml:"webhook_url"`
}

// Remediator configures the patch-suggestion service's optional GitHub
// branch/PR automation (§4.C9.b). DefaultAdapter "none" returns the patch
// and explanation only; "github" additionally opens a draft PR against
// Repo when an admin token is supplied on the request.
type Remediator struct {
	DefaultAdapter string `toml:"default_adapter"` // "none" or "github"
	Repo           string `toml:"repo"`            // "owner/name"
	BaseBranch     string `toml:"base_branch"`
}

// Notify configures outbound notification channels (§4.C6.f, §6).
type Notify struct {
	SlackToken       string `toml:"slack_token"`
	SlackChannel     string `toml:"slack_channel"`
	GitHubToken      string `toml:"github_token"`
	EmailFrom        string `toml:"email_from"`
	EmailSMTPAddr    string `toml:"email_smtp_addr"`
}

// API configures the shared HTTP surface (§6): CORS origins and request
// body limits apply to every chi-based service, not just the orchestrator.
type API struct {
	AllowedOrigins  []string `toml:"allowed_origins"`
	MaxBodyBytes    int64    `toml:"max_body_bytes"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// Store configures scan/finding/job persistence (§3). Sqlite is the
// default; Redis is the pluggable alternative the spec calls out.
type Store struct {
	Driver    string `toml:"driver"` // "sqlite" or "redis"
	SqlitePath string `toml:"sqlite_path"`
	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`
}

// Clone returns a deep copy of cfg so callers (in particular ConfigManager)
// can hand out snapshots that are safe to read without a lock.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	cloned.Chains = cloneChains(cfg.Chains)
	cloned.Stages = cloneStages(cfg.Stages)
	cloned.ScanConfig.ReportFormats = cloneStringSlice(cfg.ScanConfig.ReportFormats)
	cloned.ScanConfig.NotifyChannels = cloneStringSlice(cfg.ScanConfig.NotifyChannels)
	cloned.API.AllowedOrigins = cloneStringSlice(cfg.API.AllowedOrigins)
	return &cloned
}

func cloneChains(in map[string]ChainSpec) map[string]ChainSpec {
	if in == nil {
		return nil
	}
	out := make(map[string]ChainSpec, len(in))
	for k, v := range in {
		v.Providers = cloneStringSlice(v.Providers)
		out[k] = v
	}
	return out
}

func cloneStages(in map[string]StageSpec) map[string]StageSpec {
	if in == nil {
		return nil
	}
	out := make(map[string]StageSpec, len(in))
	for k, v := range in {
		if v.Analyzers != nil {
			analyzers := make([]AnalyzerSpec, len(v.Analyzers))
			for i, a := range v.Analyzers {
				a.Command = cloneStringSlice(a.Command)
				analyzers[i] = a
			}
			v.Analyzers = analyzers
		}
		v.Harness.Command = cloneStringSlice(v.Harness.Command)
		out[k] = v
	}
	return out
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Load reads, decodes, defaults, overrides-from-env, and validates a bugbot
// TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	// enable_fuzzing defaults to true; a value in the file replaces it.
	cfg := Config{ScanConfig: ScanDefaults{EnableFuzzing: true}}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadManager reads config from path and returns an RWMutex-backed
// thread-safe manager, used wherever a service needs to Reload the
// routing table or chain allowlist without a restart.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewManager(cfg), nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.General.HTTPAddr == "" {
		cfg.General.HTTPAddr = ":8080"
	}
	if cfg.General.MetricsAddr == "" {
		cfg.General.MetricsAddr = ":9090"
	}

	if cfg.RPCPool.CircuitThreshold == 0 {
		cfg.RPCPool.CircuitThreshold = 5
	}
	if cfg.RPCPool.CircuitTimeout.Duration == 0 {
		cfg.RPCPool.CircuitTimeout.Duration = 300 * time.Second
	}
	if cfg.RPCPool.HealthCheckInterval.Duration == 0 {
		cfg.RPCPool.HealthCheckInterval.Duration = 60 * time.Second
	}
	if cfg.RPCPool.RequestTimeout.Duration == 0 {
		cfg.RPCPool.RequestTimeout.Duration = 10 * time.Second
	}
	if cfg.RPCPool.MaxRetriesPerRequest == 0 {
		cfg.RPCPool.MaxRetriesPerRequest = 3
	}

	if cfg.LLM.RequestTimeout.Duration == 0 {
		cfg.LLM.RequestTimeout.Duration = 60 * time.Second
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryBackoffBase.Duration == 0 {
		cfg.LLM.RetryBackoffBase.Duration = 500 * time.Millisecond
	}
	if cfg.LLM.RetryMaxDelay.Duration == 0 {
		cfg.LLM.RetryMaxDelay.Duration = 30 * time.Second
	}
	if cfg.LLM.RoutingTablePath == "" {
		cfg.LLM.RoutingTablePath = "routing.yaml"
	}
	if cfg.LLM.CloudModel == "" {
		cfg.LLM.CloudModel = "claude-sonnet-4-5"
	}

	if cfg.Orch.MaxConcurrentScans == 0 {
		cfg.Orch.MaxConcurrentScans = 10
	}
	if cfg.Orch.QueueSize == 0 {
		cfg.Orch.QueueSize = 100
	}
	if cfg.Orch.TemporalHostPort == "" {
		cfg.Orch.TemporalHostPort = "localhost:7233"
	}
	if cfg.Orch.TemporalNamespace == "" {
		cfg.Orch.TemporalNamespace = "default"
	}
	if cfg.Orch.TaskQueue == "" {
		cfg.Orch.TaskQueue = "bugbot-scan"
	}
	if cfg.Orch.StartToCloseBuffer.Duration == 0 {
		cfg.Orch.StartToCloseBuffer.Duration = 30 * time.Second
	}

	applyStageDefault(cfg, "recon", 180*time.Second)
	applyStageDefault(cfg, "static", 300*time.Second)
	applyStageDefault(cfg, "fuzzing", 600*time.Second)
	applyStageDefault(cfg, "monitoring", 60*time.Second) // extended further by monitor_duration_minutes at dispatch time
	applyStageDefault(cfg, "triage", 300*time.Second)
	applyStageDefault(cfg, "reporting", 60*time.Second)

	if cfg.ScanConfig.MonitorDurationMinutes == 0 {
		cfg.ScanConfig.MonitorDurationMinutes = 60
	}
	if cfg.ScanConfig.SandboxType == "" {
		cfg.ScanConfig.SandboxType = "docker"
	}
	if len(cfg.ScanConfig.ReportFormats) == 0 {
		cfg.ScanConfig.ReportFormats = []string{"immunefi", "hackenproof", "json"}
	}

	if cfg.Validator.MaxConcurrentValidations == 0 {
		cfg.Validator.MaxConcurrentValidations = 5
	}
	if cfg.Validator.DefaultTimeout.Duration == 0 {
		cfg.Validator.DefaultTimeout.Duration = 300 * time.Second
	}
	if cfg.Validator.MaxTimeout.Duration == 0 {
		cfg.Validator.MaxTimeout.Duration = 1800 * time.Second
	}
	if cfg.Validator.SandboxImage == "" {
		cfg.Validator.SandboxImage = "bugbot/validator-sandbox:latest"
	}

	if cfg.Guardrail.SweepInterval.Duration == 0 {
		cfg.Guardrail.SweepInterval.Duration = 30 * time.Second
	}
	if cfg.Guardrail.PauseTimeout.Duration == 0 {
		cfg.Guardrail.PauseTimeout.Duration = 24 * time.Hour
	}
	if cfg.Guardrail.DefaultAdapter == "" {
		cfg.Guardrail.DefaultAdapter = "none"
	}

	if cfg.Remediator.DefaultAdapter == "" {
		cfg.Remediator.DefaultAdapter = "none"
	}
	if cfg.Remediator.BaseBranch == "" {
		cfg.Remediator.BaseBranch = "main"
	}

	if cfg.API.MaxBodyBytes == 0 {
		cfg.API.MaxBodyBytes = 1 << 20 // 1MiB
	}
	if cfg.API.ShutdownTimeout.Duration == 0 {
		cfg.API.ShutdownTimeout.Duration = 10 * time.Second
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.SqlitePath == "" {
		cfg.Store.SqlitePath = "bugbot.db"
	}
}

func applyStageDefault(cfg *Config, name string, timeout time.Duration) {
	if cfg.Stages == nil {
		cfg.Stages = map[string]StageSpec{}
	}
	spec := cfg.Stages[name]
	if spec.Timeout.Duration == 0 {
		spec.Timeout.Duration = timeout
	}
	cfg.Stages[name] = spec
}

// applyEnvOverrides lets operators override secrets and hosts without
// checking them into the TOML file, following the same BUGBOT_* convention
// across every service.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BUGBOT_ADMIN_TOKEN"); v != "" {
		cfg.General.AdminToken = v
	}
	if v := os.Getenv("BUGBOT_LLM_LOCAL_URL"); v != "" {
		cfg.LLM.LocalURL = v
	}
	if v := os.Getenv("BUGBOT_LLM_CLOUD_API_KEY"); v != "" {
		cfg.LLM.CloudAPIKey = v
	}
	if v := os.Getenv("BUGBOT_SLACK_TOKEN"); v != "" {
		cfg.Notify.SlackToken = v
	}
	if v := os.Getenv("BUGBOT_GITHUB_TOKEN"); v != "" {
		cfg.Notify.GitHubToken = v
	}
	if v := os.Getenv("BUGBOT_TEMPORAL_HOST_PORT"); v != "" {
		cfg.Orch.TemporalHostPort = v
	}
	if v := os.Getenv("BUGBOT_REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
}

func validate(cfg *Config) error {
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	for name, chain := range cfg.Chains {
		if !IsSupportedChain(name) {
			return fmt.Errorf("chain %q is not in the supported chain set", name)
		}
		if !chain.Enabled {
			continue
		}
		if len(chain.Providers) == 0 {
			return fmt.Errorf("chain %q is enabled but has no providers", name)
		}
	}
	if cfg.Store.Driver != "sqlite" && cfg.Store.Driver != "redis" {
		return fmt.Errorf("store.driver must be sqlite or redis, got %q", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "redis" && cfg.Store.RedisAddr == "" {
		return fmt.Errorf("store.redis_addr is required when store.driver is redis")
	}
	if cfg.Validator.MaxTimeout.Duration < cfg.Validator.DefaultTimeout.Duration {
		return fmt.Errorf("validator.max_timeout must be >= validator.default_timeout")
	}
	return nil
}
