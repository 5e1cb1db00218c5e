package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/akitorahayashi/jlo/internal/config"
	"github.com/akitorahayashi/jlo/internal/layer"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "main", cfg.Run.DefaultBranch)
	require.Equal(t, "jules", cfg.Run.JulesBranch)
	require.Equal(t, 3, cfg.Jules.MaxRetries)
	require.Equal(t, []string{"bugs", "feats", "refacts"}, cfg.IssueLabels)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
run:
  jules_branch: agents
jules:
  retry_delay_ms: 250
issue_labels: [docs]
`))
	require.NoError(t, err)
	require.Equal(t, "main", cfg.Run.DefaultBranch)
	require.Equal(t, "agents", cfg.Run.JulesBranch)
	require.Equal(t, 250, cfg.Jules.RetryDelayMs)
	require.Equal(t, 30, cfg.Jules.TimeoutSecs)
	require.Equal(t, []string{"docs"}, cfg.IssueLabels)
}

func TestValidateRejectsBadValues(t *testing.T) {
	_, err := config.FromYAML([]byte("jules:\n  timeout_secs: 0\n"))
	require.ErrorContains(t, err, "timeout_secs")
	_, err = config.FromYAML([]byte("jules:\n  api_url: ftp://example.com\n"))
	require.ErrorContains(t, err, "api_url")
	_, err = config.FromYAML([]byte("run: [\n"))
	require.ErrorContains(t, err, "invalid config yaml")
}

func TestScheduleEnabledRolesInDeclaredOrder(t *testing.T) {
	s, err := config.ScheduleFromYAML([]byte(`
version: 1
enabled: true
observers:
  roles:
    - {name: taxonomy, enabled: true}
    - {name: qa, enabled: false}
    - {name: consistency, enabled: true}
innovators:
  roles:
    - {name: leverage_architect, enabled: true}
`))
	require.NoError(t, err)
	require.Equal(t, []string{"taxonomy", "consistency"}, s.For(layer.Observers).EnabledRoles())
	require.Nil(t, s.For(layer.Deciders).EnabledRoles())
	require.Equal(t, []string{"leverage_architect"}, s.For(layer.Innovators).EnabledRoles())
}

func TestScheduleValidation(t *testing.T) {
	_, err := config.ScheduleFromYAML([]byte("version: 2\nenabled: false\nobservers: {roles: []}\n"))
	require.ErrorContains(t, err, "version")

	_, err = config.ScheduleFromYAML([]byte("version: 1\nenabled: true\nobservers: {roles: []}\n"))
	require.ErrorContains(t, err, "at least one observer role")

	_, err = config.ScheduleFromYAML([]byte("version: 1\nenabled: false\nobservers:\n  roles:\n    - {name: qa, enabled: true}\n    - {name: qa, enabled: false}\n"))
	require.ErrorContains(t, err, "duplicate role id 'qa'")

	_, err = config.ScheduleFromYAML([]byte("version: 1\nenabled: false\nobservers:\n  roles:\n    - {name: bad role, enabled: true}\n"))
	require.ErrorContains(t, err, "invalid role id")

	_, err = config.ScheduleFromYAML([]byte("version: 1\nenabled: false\nobservers: {roles: []}\nextra: 1\n"))
	require.Error(t, err)
}

func TestLoadScheduleMissing(t *testing.T) {
	_, err := config.LoadSchedule(t.TempDir())
	require.True(t, errors.Is(err, config.ErrScheduleMissing))
}

func TestLoadEnvReadsDotEnvAndOverride(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("JULES_MOCK_TAG=mock-from-dotenv\n"), 0o644))
	t.Setenv("JULES_MOCK_TAG", "")
	os.Unsetenv("JULES_MOCK_TAG")
	t.Setenv("GH_TOKEN", "ghp_test")
	t.Setenv("JULES_WORKER_BRANCH", "agents")
	t.Setenv("GITHUB_ACTIONS", "true")

	env := config.LoadEnv(viper.New(), root)
	require.Equal(t, "mock-from-dotenv", env.MockTag)
	require.Equal(t, "ghp_test", env.GHToken)
	require.True(t, env.CI)
	require.Equal(t, "agents", config.Default().WorkerBranch(env))
}
