package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/ini.v1"
)

const (
	DefaultAPIBaseURL     = "http://localhost:3000"
	DefaultConsoleBaseURL = "http://localhost:3000"
)

// Config controls where and whether checkpoints are written.
type Config struct {
	APIKey         string
	Org            string
	APIBaseURL     string
	ConsoleBaseURL string
	// Disabled turns off all network activity. The in-memory tree keeps
	// working.
	Disabled bool

	Runtime        string // "cloud", "sdk" or empty
	RuntimeVersion string
	ExecutionRunID string

	LogLevel  string
	LogFormat string
}

// Enabled reports whether checkpoints will be written.
func (c Config) Enabled() bool {
	return c.APIKey != "" && !c.Disabled
}

// Validate reports configuration misuse that must fail fast.
func (c Config) Validate() error {
	if c.Enabled() && c.Org == "" {
		return ErrOrgNotSet
	}
	if c.Runtime != "" && c.Runtime != "cloud" && c.Runtime != "sdk" {
		return fmt.Errorf("%w: %q", ErrInvalidRuntime, c.Runtime)
	}
	return nil
}

// envConfig reads CHECKPOINT_API_KEY, CHECKPOINT_ORG,
// CHECKPOINT_API_BASE_URL, CHECKPOINT_CONSOLE_URL, CHECKPOINT_ENABLED,
// CHECKPOINT_RUNTIME, CHECKPOINT_RUNTIME_VERSION,
// CHECKPOINT_EXECUTION_RUN_ID, CHECKPOINT_CONFIG_DIR,
// CHECKPOINT_LOG_LEVEL and CHECKPOINT_LOG_FORMAT.
type envConfig struct {
	APIKey         string `split_words:"true"`
	Org            string
	APIBaseURL     string `split_words:"true"`
	ConsoleURL     string `split_words:"true"`
	Enabled        string
	Runtime        string
	RuntimeVersion string `split_words:"true"`
	ExecutionRunID string `split_words:"true"`
	ConfigDir      string `split_words:"true"`
	LogLevel       string `split_words:"true"`
	LogFormat      string `split_words:"true"`
}

// fileConfig is the INI config file:
//
//	[api]
//	token = ...
//	org = ...
//	baseUrl = ...
//
//	[console]
//	baseUrl = ...
type fileConfig struct {
	Token          string
	Org            string
	APIBaseURL     string
	ConsoleBaseURL string
}

// ResolveConfig fills the empty fields of explicit from CHECKPOINT_*
// environment variables, then the config file, then defaults, and
// validates the result.
func ResolveConfig(explicit Config) (Config, error) {
	var env envConfig
	if err := envconfig.Process("CHECKPOINT", &env); err != nil {
		return Config{}, fmt.Errorf("checkpoint: read environment: %w", err)
	}
	file := readConfigFile(ConfigPath(env.ConfigDir))

	cfg := Config{
		APIKey:         first(explicit.APIKey, env.APIKey, file.Token),
		Org:            first(explicit.Org, env.Org, file.Org),
		APIBaseURL:     first(explicit.APIBaseURL, env.APIBaseURL, file.APIBaseURL, DefaultAPIBaseURL),
		ConsoleBaseURL: first(explicit.ConsoleBaseURL, env.ConsoleURL, file.ConsoleBaseURL, DefaultConsoleBaseURL),
		Disabled:       explicit.Disabled || isOff(env.Enabled),
		Runtime:        first(explicit.Runtime, env.Runtime),
		RuntimeVersion: first(explicit.RuntimeVersion, env.RuntimeVersion),
		ExecutionRunID: first(explicit.ExecutionRunID, env.ExecutionRunID),
		LogLevel:       first(explicit.LogLevel, env.LogLevel, "info"),
		LogFormat:      first(explicit.LogFormat, env.LogFormat, "json"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigPath returns the config file location. dir overrides the
// platform default when non-empty.
func ConfigPath(dir string) string {
	if dir != "" {
		return filepath.Join(dir, "config")
	}
	home, _ := os.UserHomeDir()
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "checkpoint", "config")
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "checkpoint", "config")
}

// readConfigFile returns an empty config when the file is missing or
// unreadable.
func readConfigFile(path string) fileConfig {
	f, err := ini.Load(path)
	if err != nil {
		return fileConfig{}
	}
	api := f.Section("api")
	return fileConfig{
		Token:          api.Key("token").String(),
		Org:            api.Key("org").String(),
		APIBaseURL:     api.Key("baseUrl").String(),
		ConsoleBaseURL: f.Section("console").Key("baseUrl").String(),
	}
}

func isOff(v string) bool {
	switch v {
	case "false", "0", "no", "off":
		return true
	}
	return false
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
