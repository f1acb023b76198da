package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Chain.WrappedCurrency = "weth"
	cfg.Queue.MaxAttempts = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	require.True(t, strings.HasPrefix(msg, "config validation failed:"))
	require.Contains(t, msg, `unknown mode "trade"`)
	require.Contains(t, msg, "wrapped_currency")
	require.Contains(t, msg, "max_attempts")
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nftbook.toml")
	body := `
mode = "worker"

[orderbook]
ladder_depth = 4
poll_interval = "250ms"

[router]
candidate_limit = 50
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("NFTBOOK_ROUTER_CANDIDATE_LIMIT", "75")
	t.Setenv("NFTBOOK_NOTIFY_EVENTS", "cancel, reprice ,")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "worker", cfg.Mode)
	require.Equal(t, 4, cfg.Orderbook.LadderDepth)
	require.Equal(t, 250*time.Millisecond, cfg.Orderbook.PollInterval.Duration)
	require.Equal(t, 75, cfg.Router.CandidateLimit)
	require.Equal(t, []string{"cancel", "reprice"}, cfg.Notify.Events)
	// Untouched sections keep their defaults.
	require.Equal(t, 20, cfg.Orderbook.PoolConcurrency)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "secret"
	cfg.Notify.Events = []string{"cancel"}

	out := RedactedConfig(&cfg)
	require.Equal(t, redacted, out.Postgres.Password)
	require.Equal(t, redacted, out.S3.SecretKey)
	require.Empty(t, out.S3.AccessKey)

	out.Notify.Events[0] = "changed"
	out.Router.Spenders["seaport"] = "changed"
	require.Equal(t, "cancel", cfg.Notify.Events[0])
	require.NotEqual(t, "changed", cfg.Router.Spenders["seaport"])
	require.Equal(t, "hunter2", cfg.Postgres.Password)
}
