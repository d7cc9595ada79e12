package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv clears every CHECKPOINT_ variable and points the config
// directory at an empty temp dir.
func isolateEnv(t *testing.T) string {
	t.Helper()
	for _, key := range []string{
		"API_KEY", "ORG", "API_BASE_URL", "CONSOLE_URL", "ENABLED", "RUNTIME",
		"RUNTIME_VERSION", "EXECUTION_RUN_ID", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv("CHECKPOINT_"+key, "")
	}
	dir := t.TempDir()
	t.Setenv("CHECKPOINT_CONFIG_DIR", dir)
	return dir
}

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config"), []byte(content), 0o600))
}

func TestResolveConfigDefaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := ResolveConfig(Config{})
	require.NoError(t, err)
	assert.False(t, cfg.Enabled())
	assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
	assert.Equal(t, DefaultConsoleBaseURL, cfg.ConsoleBaseURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestResolveConfigPrecedence(t *testing.T) {
	dir := isolateEnv(t)
	writeConfigFile(t, dir, `
[api]
token = file-token
org = file-org
baseUrl = https://file.example

[console]
baseUrl = https://console.file.example
`)

	cfg, err := ResolveConfig(Config{})
	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.APIKey)
	assert.Equal(t, "file-org", cfg.Org)
	assert.Equal(t, "https://file.example", cfg.APIBaseURL)
	assert.Equal(t, "https://console.file.example", cfg.ConsoleBaseURL)
	assert.True(t, cfg.Enabled())

	t.Setenv("CHECKPOINT_ORG", "env-org")
	t.Setenv("CHECKPOINT_API_BASE_URL", "https://env.example")
	cfg, err = ResolveConfig(Config{})
	require.NoError(t, err)
	assert.Equal(t, "env-org", cfg.Org)
	assert.Equal(t, "https://env.example", cfg.APIBaseURL)
	assert.Equal(t, "file-token", cfg.APIKey)

	cfg, err = ResolveConfig(Config{Org: "explicit-org"})
	require.NoError(t, err)
	assert.Equal(t, "explicit-org", cfg.Org)
}

func TestResolveConfigDisabledFlag(t *testing.T) {
	isolateEnv(t)
	t.Setenv("CHECKPOINT_API_KEY", "key")
	t.Setenv("CHECKPOINT_ORG", "acme")

	for _, off := range []string{"false", "0", "no", "off"} {
		t.Setenv("CHECKPOINT_ENABLED", off)
		cfg, err := ResolveConfig(Config{})
		require.NoError(t, err)
		assert.False(t, cfg.Enabled(), off)
	}

	t.Setenv("CHECKPOINT_ENABLED", "true")
	cfg, err := ResolveConfig(Config{})
	require.NoError(t, err)
	assert.True(t, cfg.Enabled())
}

func TestResolveConfigRequiresOrg(t *testing.T) {
	isolateEnv(t)
	t.Setenv("CHECKPOINT_API_KEY", "key")

	_, err := ResolveConfig(Config{})
	assert.ErrorIs(t, err, ErrOrgNotSet)

	// Disabling checkpoints makes the org optional.
	t.Setenv("CHECKPOINT_ENABLED", "off")
	_, err = ResolveConfig(Config{})
	assert.NoError(t, err)
}

func TestValidateRuntime(t *testing.T) {
	assert.NoError(t, Config{Runtime: "cloud"}.Validate())
	assert.NoError(t, Config{Runtime: "sdk"}.Validate())
	assert.ErrorIs(t, Config{Runtime: "lambda"}.Validate(), ErrInvalidRuntime)

	_, err := New(Config{Runtime: "lambda"})
	assert.ErrorIs(t, err, ErrInvalidRuntime)
}

func TestNewRejectsBadLogLevel(t *testing.T) {
	_, err := New(Config{LogLevel: "loud"})
	assert.Error(t, err)
}

func TestNewAppliesDefaultURLs(t *testing.T) {
	m := newTestManager(t, Config{APIKey: "test-key", Org: "acme"}, WithIDGenerator(seqIDs("root")))
	assert.Equal(t, DefaultAPIBaseURL, m.Config().APIBaseURL)
	assert.Equal(t, DefaultConsoleBaseURL, m.Config().ConsoleBaseURL)

	m.AddNode(NodeSpec{ComponentName: "Agent"}, "")
	drain(t, m.Manager)
	require.Equal(t, 1, m.transport.count())
	assert.Equal(t, DefaultAPIBaseURL+"/org/acme/traces", m.transport.request(0).URL)
}

func TestConfigPathOverride(t *testing.T) {
	assert.Equal(t, filepath.Join("/tmp/cfg", "config"), ConfigPath("/tmp/cfg"))

	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if filepath.Separator == '/' {
		assert.Equal(t, "/xdg/checkpoint/config", ConfigPath(""))
	}
}

func TestUnreadableConfigFileIgnored(t *testing.T) {
	dir := isolateEnv(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config"), 0o700))

	cfg, err := ResolveConfig(Config{})
	require.NoError(t, err)
	assert.Empty(t, cfg.APIKey)
}
