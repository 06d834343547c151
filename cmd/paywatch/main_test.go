package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/models"
)

func TestSitesCmd_SampleConfig(t *testing.T) {
	cfg := config.Load()
	cfg.SitesFile = filepath.Join("..", "..", "config", "sites_config.yaml")

	var out bytes.Buffer
	cmd := newSitesCmd(cfg)
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "ID"))
	require.True(t, strings.HasPrefix(lines[1], "pinco"))
	require.True(t, strings.HasPrefix(lines[2], "martin"))
	require.True(t, strings.HasPrefix(lines[3], "onx"))
}

func TestSitesCmd_UnknownExtractor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sites:
  - id: casino9
    auth:
      site_url: https://casino9.example.com/
      login_selector: "#login"
      success_indicator: "#balance"
    topup:
      screenshot_selector: "#methods"
`), 0o644))

	cfg := config.Load()
	cfg.SitesFile = path

	cmd := newSitesCmd(cfg)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs(nil)
	err := cmd.Execute()
	require.Error(t, err)
	require.Equal(t, models.ErrCodeNoExtractor, models.CodeOf(err))
}

func TestInitLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	initLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	t.Cleanup(func() { initLogger(config.LogConfig{}, os.Stderr) })

	slog.Info("level check")
	require.Empty(t, buf.String())

	slog.Warn("level check")
	require.Contains(t, buf.String(), `"msg":"level check"`)
	require.Contains(t, buf.String(), `"level":"WARN"`)
}

func TestSitesCmd_MissingExtractorFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sites:
  - id: pinco
    auth:
      site_url: https://pinco.example.com/
      login_selector: "#login"
      success_indicator: "#balance"
    topup:
      screenshot_selector: "#methods"
`), 0o644))

	cfg := config.Load()
	cfg.SitesFile = path

	cmd := newSitesCmd(cfg)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs(nil)
	err := cmd.Execute()
	require.Error(t, err)
	require.Equal(t, models.ErrCodeConfig, models.CodeOf(err))
	require.Contains(t, err.Error(), "topup.cashbox_selector")
}
