package dispatch_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/config"
	"github.com/akitorahayashi/jlo/internal/dispatch"
	"github.com/akitorahayashi/jlo/internal/layer"
	"github.com/akitorahayashi/jlo/internal/prompt"
	"github.com/akitorahayashi/jlo/internal/session"
)

type recordingCreator struct {
	requests []session.Request
	err      error
}

func (c *recordingCreator) CreateSession(_ context.Context, req session.Request) (session.Response, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return session.Response{}, c.err
	}
	return session.Response{SessionID: "s-1", Status: "created"}, nil
}

type testEnv struct {
	paths    layer.Paths
	sessions *recordingCreator
	out      *bytes.Buffer
	d        *dispatch.Real
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	paths := layer.Paths{Root: root}
	for _, l := range layer.All {
		write(t, paths.PromptTemplate(l), "run {{ .layer }}\n")
	}
	write(t, paths.PromptTemplate(layer.Observers), "observe as {{ .role }}\n{{ .bridge_task }}")
	env := &testEnv{paths: paths, sessions: &recordingCreator{}, out: &bytes.Buffer{}}
	env.d = &dispatch.Real{
		Paths:        paths,
		Config:       config.Default(),
		WorkerBranch: "jules",
		Assembler:    prompt.NewFileAssembler(root),
		Sessions:     env.sessions,
		Source: func(context.Context) (string, error) {
			return "sources/github/acme/app", nil
		},
		Out: env.out,
	}
	return env
}

func TestDispatchRoleCreatesSessionOnWorkerBranch(t *testing.T) {
	env := newTestEnv(t)
	item, err := layer.RoleItem(layer.Observers, "qa")
	require.NoError(t, err)

	res, err := env.d.Dispatch(context.Background(), item, dispatch.Options{})
	require.NoError(t, err)
	require.Equal(t, dispatch.Result{Status: dispatch.StatusDispatched, SessionID: "s-1", Branch: "jules"}, res)

	require.Len(t, env.sessions.requests, 1)
	req := env.sessions.requests[0]
	require.Equal(t, "observe as qa\n", req.Prompt)
	require.Equal(t, "sources/github/acme/app", req.Source)
	require.Equal(t, session.AutoCreatePR, req.AutomationMode)
	require.False(t, req.RequirePlanApproval)
}

func TestDispatchImplementerUsesDefaultBranchAndAppendsRequirement(t *testing.T) {
	env := newTestEnv(t)
	reqPath := filepath.Join(env.paths.Requirements(), "impl.yml")
	write(t, reqPath, "id: abc123\nlabel: bugs\nrequires_deep_analysis: false\n")
	item, err := layer.RequirementItem(layer.Implementers, reqPath)
	require.NoError(t, err)

	res, err := env.d.Dispatch(context.Background(), item, dispatch.Options{})
	require.NoError(t, err)
	require.Equal(t, "main", res.Branch)
	require.Contains(t, env.sessions.requests[0].Prompt, "run implementers\n\n---\n# Requirement Content\nid: abc123")

	res, err = env.d.Dispatch(context.Background(), item, dispatch.Options{Branch: "release"})
	require.NoError(t, err)
	require.Equal(t, "release", res.Branch)
}

func TestDispatchRejectsUnsafeLabel(t *testing.T) {
	env := newTestEnv(t)
	reqPath := filepath.Join(env.paths.Requirements(), "bad.yml")
	write(t, reqPath, "id: abc123\nlabel: ../x\nrequires_deep_analysis: false\n")
	item, err := layer.RequirementItem(layer.Implementers, reqPath)
	require.NoError(t, err)

	_, err = env.d.Dispatch(context.Background(), item, dispatch.Options{})
	var ve apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	require.Empty(t, env.sessions.requests)
}

func TestPreviewCreatesNoSession(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.d.Dispatch(context.Background(), layer.NarratorItem(), dispatch.Options{Preview: true})
	require.NoError(t, err)
	require.Equal(t, dispatch.StatusPreviewed, res.Status)
	require.Contains(t, env.out.String(), "Assembled prompt: 13 chars")
	require.Empty(t, env.sessions.requests)
}

func TestPreviewCountsCharactersNotBytes(t *testing.T) {
	env := newTestEnv(t)
	write(t, env.paths.PromptTemplate(layer.Narrator), "résumé {{ .layer }}\n")
	_, err := env.d.Dispatch(context.Background(), layer.NarratorItem(), dispatch.Options{Preview: true})
	require.NoError(t, err)
	require.Contains(t, env.out.String(), "Assembled prompt: 16 chars")
}

func TestObserverBridgeTask(t *testing.T) {
	env := newTestEnv(t)
	item, err := layer.RoleItem(layer.Observers, "qa")
	require.NoError(t, err)

	write(t, env.paths.InnovatorIdea("scout"), "idea: x\n")
	_, err = env.d.Dispatch(context.Background(), item, dispatch.Options{})
	require.ErrorContains(t, err, "bridge_comments.yml is missing")

	write(t, filepath.Join(env.paths.TasksDir(layer.Observers), "bridge_comments.yml"), "comment on ideas")
	_, err = env.d.Dispatch(context.Background(), item, dispatch.Options{})
	require.NoError(t, err)
	require.Equal(t, "observe as qa\ncomment on ideas", env.sessions.requests[0].Prompt)
}

func TestSessionErrorPropagates(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.err = apperr.SessionAPIError{Message: "bad", Status: 400}
	_, err := env.d.Dispatch(context.Background(), layer.NarratorItem(), dispatch.Options{})
	var se apperr.SessionAPIError
	require.True(t, errors.As(err, &se))
	require.Equal(t, 400, se.Status)
}
