package labels_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/forge"
	"github.com/akitorahayashi/jlo/internal/labels"
	"github.com/akitorahayashi/jlo/internal/layer"
)

type forgeMock struct {
	mock.Mock
}

var _ labels.Forge = (*forgeMock)(nil)

func (m *forgeMock) PullRequestDetail(ctx context.Context, number int) (forge.PullRequestDetail, error) {
	args := m.Called(ctx, number)
	return args.Get(0).(forge.PullRequestDetail), args.Error(1)
}

func (m *forgeMock) EnsureLabel(ctx context.Context, name, color string) error {
	return m.Called(ctx, name, color).Error(0)
}

func (m *forgeMock) AddLabelToPullRequest(ctx context.Context, number int, label string) error {
	return m.Called(ctx, number, label).Error(0)
}

const catalogJSON = `{"issue_labels":{"bugs":{"color":"d73a4a"},"tech-debt":{"color":"0055aa"},"tech":{"color":"111111"}}}`

func writeCatalog(t *testing.T, content string) layer.Paths {
	t.Helper()
	paths := layer.Paths{Root: t.TempDir()}
	require.NoError(t, os.MkdirAll(paths.Jules(), 0o755))
	require.NoError(t, os.WriteFile(paths.GitHubLabels(), []byte(content), 0o644))
	return paths
}

func TestParseImplementerBranch(t *testing.T) {
	paths := writeCatalog(t, catalogJSON)
	cat, err := labels.LoadCatalog(paths.GitHubLabels())
	require.NoError(t, err)

	label, id, err := labels.ParseImplementerBranch("jules-implementer-bugs-abc123-fix-crash", cat)
	require.NoError(t, err)
	require.Equal(t, "bugs", label)
	require.Equal(t, "abc123", id)

	label, id, err = labels.ParseImplementerBranch("jules-implementer-tech-debt-def456-refactor-parser", cat)
	require.NoError(t, err)
	require.Equal(t, "tech-debt", label)
	require.Equal(t, "def456", id)

	for _, branch := range []string{
		"jules-narrator-abc123",
		"main",
		"jules-implementer-bugs-abc-fix",
		"jules-implementer-bugs-abc1234-fix",
		"jules-implementer-bugs-ABC123-fix",
		"jules-implementer-bugs-abc123",
		"jules-implementer-docs-abc123-fix",
	} {
		_, _, err := labels.ParseImplementerBranch(branch, cat)
		require.Error(t, err, branch)
	}
}

func TestLoadCatalogRejectsBadFiles(t *testing.T) {
	_, err := labels.LoadCatalog(filepath.Join(t.TempDir(), "missing.json"))
	var ve apperr.ValidationError
	require.True(t, errors.As(err, &ve))

	paths := writeCatalog(t, `{"issue_labels":{"bugs":{}}}`)
	_, err = labels.LoadCatalog(paths.GitHubLabels())
	require.ErrorContains(t, err, "missing color")

	paths = writeCatalog(t, `{"labels":{}}`)
	_, err = labels.LoadCatalog(paths.GitHubLabels())
	require.ErrorContains(t, err, "issue_labels")

	paths = writeCatalog(t, `{`)
	_, err = labels.LoadCatalog(paths.GitHubLabels())
	var pe apperr.ParseError
	require.True(t, errors.As(err, &pe))
}

func TestSyncCategoryAppliesLabel(t *testing.T) {
	paths := writeCatalog(t, catalogJSON)
	f := &forgeMock{}
	f.On("PullRequestDetail", mock.Anything, 12).
		Return(forge.PullRequestDetail{Number: 12, Head: "jules-implementer-bugs-abc123-mock-ci-1", Base: "main"}, nil)
	f.On("EnsureLabel", mock.Anything, "bugs", "d73a4a").Return(nil)
	f.On("AddLabelToPullRequest", mock.Anything, 12, "bugs").Return(nil)

	out, err := labels.SyncCategory(context.Background(), f, paths, 12)
	require.NoError(t, err)
	require.Equal(t, labels.Output{SchemaVersion: 1, Applied: true, Target: 12, Label: "bugs"}, out)
	f.AssertExpectations(t)
}

func TestSyncCategorySkipsOtherBranches(t *testing.T) {
	paths := writeCatalog(t, catalogJSON)
	f := &forgeMock{}
	f.On("PullRequestDetail", mock.Anything, 3).
		Return(forge.PullRequestDetail{Number: 3, Head: "jules-observer-qa-1"}, nil)

	out, err := labels.SyncCategory(context.Background(), f, paths, 3)
	require.NoError(t, err)
	require.False(t, out.Applied)
	require.Contains(t, out.SkippedReason, "jules-observer-qa-1")
	f.AssertNotCalled(t, "EnsureLabel", mock.Anything, mock.Anything, mock.Anything)
	f.AssertNotCalled(t, "AddLabelToPullRequest", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncCategoryPropagatesForgeErrors(t *testing.T) {
	paths := writeCatalog(t, catalogJSON)
	f := &forgeMock{}
	f.On("PullRequestDetail", mock.Anything, 4).
		Return(forge.PullRequestDetail{Number: 4, Head: "jules-implementer-tech-abc123-x"}, nil)
	f.On("EnsureLabel", mock.Anything, "tech", "111111").
		Return(apperr.ToolError{Tool: "gh", Details: "forbidden"})

	_, err := labels.SyncCategory(context.Background(), f, paths, 4)
	var te apperr.ToolError
	require.True(t, errors.As(err, &te))
	f.AssertNotCalled(t, "AddLabelToPullRequest", mock.Anything, mock.Anything, mock.Anything)
}
