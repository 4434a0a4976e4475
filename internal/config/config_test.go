package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rsi/internal/record"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rsi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	base := t.TempDir()
	cfg, err := Load(filepath.Join(base, "missing.yaml"), map[string]any{"paths.base": base})
	require.NoError(t, err)

	assert.Equal(t, DefaultStageTimeout, cfg.Orchestrator.StageTimeout)
	assert.Equal(t, DefaultLeaseTTL, cfg.Orchestrator.LeaseTTL)
	assert.Equal(t, DefaultActivationTimeout, cfg.Deploy.ActivationTimeout)
	assert.Equal(t, DefaultDiskThreshold, cfg.Discovery.DiskThresholdPercent)
	assert.Equal(t, DefaultLogTailLines, cfg.Discovery.LogTailLines)
	assert.Equal(t, DefaultWatchMinGap, cfg.Watch.MinGap)
	assert.NotEmpty(t, cfg.Orchestrator.Owner)

	assert.Equal(t, filepath.Join(base, "proposals"), cfg.Paths.Proposals)
	assert.Equal(t, filepath.Join(base, "staging"), cfg.Paths.Staging)
	assert.Equal(t, filepath.Join(base, "validation"), cfg.Paths.Validation)
	assert.Equal(t, filepath.Join(base, "deployed"), cfg.Paths.Deployed)
	assert.Equal(t, filepath.Join(base, "logs"), cfg.Paths.Logs)
	assert.Equal(t, filepath.Join(base, "constitution.yaml"), cfg.Paths.Policy)
	assert.Equal(t, filepath.Join(base, "rsi.db"), cfg.Paths.Database)
	assert.Empty(t, cfg.Paths.MetricsTextfile)
	assert.Equal(t, filepath.Join(base, "live"), cfg.AutomationDir())
	assert.Nil(t, cfg.SeedFindings())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
paths:
  base: /srv/rsi
  staging: /var/tmp/staging
  metrics_textfile: metrics/rsi.prom
orchestrator:
  stage_timeout: 45s
  owner: node-a
  stages:
    validation: /opt/bin/validate
discovery:
  disk_paths: [/, /data]
  disk_threshold_percent: 90
  processes:
    - name: api
      pattern: "node server.js"
      start_command: "node server.js"
      work_dir: /srv/api
  seeds:
    - kind: automation
      component: content
      title: Automate content deployment
      complexity: medium
      priority: high
deploy:
  automation_dir: scripts
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/srv/rsi", cfg.Paths.Base)
	assert.Equal(t, "/var/tmp/staging", cfg.Paths.Staging)
	assert.Equal(t, "/srv/rsi/proposals", cfg.Paths.Proposals)
	assert.Equal(t, "/srv/rsi/metrics/rsi.prom", cfg.Paths.MetricsTextfile)
	assert.Equal(t, 45*time.Second, cfg.Orchestrator.StageTimeout)
	assert.Equal(t, "node-a", cfg.Orchestrator.Owner)
	assert.Equal(t, map[string]string{"validation": "/opt/bin/validate"}, cfg.Orchestrator.Stages)
	assert.Equal(t, []string{"/", "/data"}, cfg.Discovery.DiskPaths)
	assert.Equal(t, 90.0, cfg.Discovery.DiskThresholdPercent)
	assert.Equal(t, "/srv/rsi/scripts", cfg.AutomationDir())

	assert.Equal(t, []record.ProcessDetail{{
		Name:         "api",
		Pattern:      "node server.js",
		StartCommand: "node server.js",
		WorkDir:      "/srv/api",
	}}, cfg.ProcessDetails())

	seeds := cfg.SeedFindings()
	require.Len(t, seeds, 1)
	assert.Equal(t, record.KindAutomation, seeds[0].Kind)
	assert.Equal(t, record.ComplexityMedium, seeds[0].Complexity)
	assert.Equal(t, "high", seeds[0].Priority)

	layout := cfg.Layout()
	assert.Equal(t, "/srv/rsi", layout.Base)
	assert.Equal(t, "/var/tmp/staging", layout.Staging)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
orchestrator:
  stage_timeout: 45s
  lease_ttl: 1m
`)
	t.Setenv("RSI_ORCHESTRATOR_STAGE_TIMEOUT", "2m")
	t.Setenv("RSI_PATHS_BASE", "/env/base")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.StageTimeout)
	assert.Equal(t, time.Minute, cfg.Orchestrator.LeaseTTL)
	assert.Equal(t, "/env/base", cfg.Paths.Base)
}

func TestLoad_OverridesWin(t *testing.T) {
	t.Setenv("RSI_PATHS_BASE", "/env/base")
	cfg, err := Load("", map[string]any{"paths.base": "/flag/base"})
	require.NoError(t, err)
	assert.Equal(t, "/flag/base", cfg.Paths.Base)
	assert.Equal(t, "/flag/base/rsi.db", cfg.Paths.Database)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "negative stage timeout",
			content: "orchestrator:\n  stage_timeout: -1s\n",
			want:    "orchestrator.stage_timeout must be positive",
		},
		{
			name:    "threshold above 100",
			content: "discovery:\n  disk_threshold_percent: 120\n",
			want:    "disk_threshold_percent must be in (0,100]",
		},
		{
			name:    "process without name",
			content: "discovery:\n  processes:\n    - pattern: x\n",
			want:    "discovery.processes[0]: name is required",
		},
		{
			name:    "seed with bad complexity",
			content: "discovery:\n  seeds:\n    - kind: automation\n      complexity: enormous\n",
			want:    `unknown complexity "enormous"`,
		},
		{
			name:    "unknown external stage",
			content: "orchestrator:\n  stages:\n    deployment: /bin/true\n",
			want:    `unknown stage "deployment"`,
		},
		{
			name:    "malformed yaml",
			content: "orchestrator: [",
			want:    "load config file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_DirectoryRejected(t *testing.T) {
	_, err := Load(t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "paths.base", envKey("RSI_PATHS_BASE"))
	assert.Equal(t, "orchestrator.lease_ttl", envKey("RSI_ORCHESTRATOR_LEASE_TTL"))
	assert.Equal(t, "verbose", envKey("RSI_VERBOSE"))
}
