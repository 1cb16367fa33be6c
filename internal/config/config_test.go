package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocknews/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load([]string{filepath.Join(t.TempDir(), "missing.hcl")}, true)
	require.NoError(t, err)

	assert.Equal(t, "https://m.edaily.co.kr/NewsList/0701", cfg.ListURL)
	assert.Equal(t, "https://m.edaily.co.kr", cfg.Origin)
	assert.Equal(t, 1, cfg.CutoffDays)
	assert.Equal(t, 10*time.Second, cfg.ArticleTimeout)
	assert.Equal(t, 10*time.Second, cfg.MoreWait)
	assert.Equal(t, 4, cfg.Workers)
	assert.False(t, cfg.RunOnce)
	assert.Empty(t, cfg.TelegramBotToken)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.hcl")
	body := `
cutoff_days = 3
schedule = "@daily"
item_selector = "ul.news li a"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("SNC_WORKERS", "0")

	cfg, err := config.Load([]string{path}, true)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.CutoffDays)
	assert.Equal(t, "@daily", cfg.Schedule)
	assert.Equal(t, "ul.news li a", cfg.ItemSelector)
	assert.Equal(t, 1, cfg.Workers, "worker count is clamped to at least one")
}

func TestLocationFallback(t *testing.T) {
	cfg := config.Config{Timezone: "Nowhere/Invalid"}

	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, cfg.Location()).Zone()
	assert.Equal(t, 9*60*60, offset)
}
