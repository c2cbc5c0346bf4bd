package config

import (
	"os"
	"path/filepath"

	"encoding/json"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/fyp-systems/fyp-core/pkg/types"
)

// ToolProfile pins a reusable tool/profile combination (binary path, default
// args, env) that sessions and orchestration workers can reference by name.
type ToolProfile struct {
	Tool    types.ToolKind    `json:"tool" yaml:"tool"`
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Config is the merged control-plane configuration.
type Config struct {
	// ListenAddr is the Control Surface bind address, e.g. ":8080".
	ListenAddr string `json:"listenAddr,omitempty"`
	// BearerToken authenticates hook-bridge and CLI requests when non-empty.
	BearerToken string `json:"bearerToken,omitempty"`
	// WorktreeRoot is the allowlisted parent directory orchestration worker
	// worktrees may be created under; worktree creation outside it is refused.
	WorktreeRoot string `json:"worktreeRoot,omitempty"`
	// Profiles maps a profile id to a tool invocation.
	Profiles map[string]ToolProfile `json:"profiles,omitempty"`
}

// Policy is the YAML-authored automation/sync defaults file, distinct from
// the JSON provider/profile config above since operators edit it by hand.
type Policy struct {
	Sync       types.SyncPolicy       `yaml:"sync"`
	Automation types.AutomationPolicy `yaml:"automation"`
}

// DefaultPolicy returns the built-in conservative defaults.
func DefaultPolicy() Policy {
	return Policy{
		Sync:       types.DefaultSyncPolicy(),
		Automation: types.DefaultAutomationPolicy(),
	}
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/orchestrator/)
// 2. Project config (.orchestrator/)
// 3. Environment variables
func Load(directory string) (*Config, error) {
	cfg := &Config{
		ListenAddr: ":8080",
		Profiles:   make(map[string]ToolProfile),
	}

	globalPath := GetPaths().Config
	loadConfigFile(filepath.Join(globalPath, "orchestrator.json"), cfg)
	loadConfigFile(filepath.Join(globalPath, "orchestrator.jsonc"), cfg)

	if directory != "" {
		loadConfigFile(filepath.Join(directory, ".orchestrator", "orchestrator.json"), cfg)
		loadConfigFile(filepath.Join(directory, ".orchestrator", "orchestrator.jsonc"), cfg)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadConfigFile loads a single config file, stripping JSONC comments via
// tidwall/jsonc before unmarshaling. Missing files are silently skipped.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(cfg, &fileConfig)
	return nil
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *Config) {
	if source.ListenAddr != "" {
		target.ListenAddr = source.ListenAddr
	}
	if source.BearerToken != "" {
		target.BearerToken = source.BearerToken
	}
	if source.WorktreeRoot != "" {
		target.WorktreeRoot = source.WorktreeRoot
	}
	if source.Profiles != nil {
		if target.Profiles == nil {
			target.Profiles = make(map[string]ToolProfile)
		}
		for k, v := range source.Profiles {
			target.Profiles[k] = v
		}
	}
}

// applyEnvOverrides applies environment variable overrides. Expected to run
// after a prior godotenv.Load of a .env file in cmd/orchestratorctl.
func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("FYP_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if token := os.Getenv("FYP_API_TOKEN"); token != "" {
		cfg.BearerToken = token
	}
	if root := os.Getenv("FYP_WORKTREE_ROOT"); root != "" {
		cfg.WorktreeRoot = root
	}
}

// Save writes the configuration to path as indented JSON.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// LoadPolicy reads the YAML sync/automation policy file at path, falling
// back to DefaultPolicy when the file does not exist.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return policy, nil
		}
		return policy, err
	}

	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, err
	}
	return policy, nil
}

// SavePolicy writes policy to path as YAML.
func SavePolicy(policy Policy, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(policy)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
