package config

import (
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Env holds every process-environment setting the engine consumes. It is
// resolved once at startup and passed down explicitly.
type Env struct {
	APIKey           string
	GHToken          string
	MockTag          string
	GitHubOutput     string
	CI               bool
	GitHubRepository string
	WorkerBranch     string
	JWTSecret        string
}

var envBindings = map[string]string{
	"api_key":           "JULES_API_KEY",
	"gh_token":          "GH_TOKEN",
	"mock_tag":          "JULES_MOCK_TAG",
	"github_output":     "GITHUB_OUTPUT",
	"github_actions":    "GITHUB_ACTIONS",
	"github_repository": "GITHUB_REPOSITORY",
	"worker_branch":     "JULES_WORKER_BRANCH",
	"jwt_secret":        "JLO_JWT_SECRET",
}

// LoadEnv reads an optional .env under root into the process environment
// (existing variables win) and resolves Env through v.
func LoadEnv(v *viper.Viper, root string) Env {
	_ = godotenv.Load(filepath.Join(root, ".env"))
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	return Env{
		APIKey:           strings.TrimSpace(v.GetString("api_key")),
		GHToken:          strings.TrimSpace(v.GetString("gh_token")),
		MockTag:          strings.TrimSpace(v.GetString("mock_tag")),
		GitHubOutput:     strings.TrimSpace(v.GetString("github_output")),
		CI:               v.GetBool("github_actions"),
		GitHubRepository: strings.TrimSpace(v.GetString("github_repository")),
		WorkerBranch:     strings.TrimSpace(v.GetString("worker_branch")),
		JWTSecret:        v.GetString("jwt_secret"),
	}
}

// WorkerBranch returns the agent worker branch: the environment override when
// present, else run.jules_branch.
func (c *Config) WorkerBranch(env Env) string {
	if env.WorkerBranch != "" {
		return env.WorkerBranch
	}
	return c.Run.JulesBranch
}
