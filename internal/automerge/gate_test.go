package automerge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/akitorahayashi/jlo/internal/automerge"
	"github.com/akitorahayashi/jlo/internal/forge"
)

type forgeMock struct {
	mock.Mock
}

var _ automerge.Forge = (*forgeMock)(nil)

func (m *forgeMock) PullRequestDetail(ctx context.Context, number int) (forge.PullRequestDetail, error) {
	args := m.Called(ctx, number)
	return args.Get(0).(forge.PullRequestDetail), args.Error(1)
}

func (m *forgeMock) ListPullRequestFiles(ctx context.Context, number int) ([]string, error) {
	args := m.Called(ctx, number)
	return args.Get(0).([]string), args.Error(1)
}

func (m *forgeMock) EnableAutoMerge(ctx context.Context, number int) error {
	return m.Called(ctx, number).Error(0)
}

func TestEvaluateGates(t *testing.T) {
	cases := []struct {
		name    string
		pr      forge.PullRequestDetail
		files   []string
		outcome automerge.Outcome
		reason  string
	}{
		{
			name:    "unknown prefix",
			pr:      forge.PullRequestDetail{Head: "feature/x"},
			outcome: automerge.Skip,
			reason:  "head branch 'feature/x' does not match any allowed Jules prefix",
		},
		{
			name:    "implementer branches need review",
			pr:      forge.PullRequestDetail{Head: "jules-implementer-bugs-abc123-t"},
			outcome: automerge.Skip,
			reason:  "does not match",
		},
		{
			name:    "draft",
			pr:      forge.PullRequestDetail{Head: "jules-observer-t", IsDraft: true},
			outcome: automerge.Skip,
			reason:  "PR is a draft",
		},
		{
			name:    "already enabled",
			pr:      forge.PullRequestDetail{Head: "jules-decider-t", AutoMergeEnabled: true},
			outcome: automerge.AlreadyEnabled,
			reason:  "auto-merge already enabled",
		},
		{
			name:    "outside scope",
			pr:      forge.PullRequestDetail{Head: "jules-narrator-t"},
			files:   []string{".jules/a.yml", "src/main.rs"},
			outcome: automerge.Skip,
			reason:  "PR modifies files outside .jules/: src/main.rs",
		},
		{
			name:    "outside scope lists at most three",
			pr:      forge.PullRequestDetail{Head: "jules-worker-sync-planners-cleanup-batch-1"},
			files:   []string{"a", "b", "c", "d"},
			outcome: automerge.Skip,
			reason:  "PR modifies files outside .jules/: a, b, c",
		},
		{
			name:    "eligible",
			pr:      forge.PullRequestDetail{Head: "jules-innovator-t"},
			files:   []string{".jules/exchange/innovators/p/idea.yml"},
			outcome: automerge.Eligible,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := automerge.Evaluate(tc.pr, tc.files)
			require.Equal(t, tc.outcome, d.Outcome)
			require.Contains(t, d.Reason, tc.reason)
		})
	}
}

func TestApplyEnablesOnceWhenEligible(t *testing.T) {
	ctx := context.Background()
	f := &forgeMock{}
	f.On("PullRequestDetail", ctx, 12).Return(forge.PullRequestDetail{Number: 12, Head: "jules-observer-mock-t"}, nil)
	f.On("ListPullRequestFiles", ctx, 12).Return([]string{".jules/exchange/events/pending/a.yml"}, nil)
	f.On("EnableAutoMerge", ctx, 12).Return(nil).Once()

	out, err := automerge.Apply(ctx, f, 12)
	require.NoError(t, err)
	require.Equal(t, automerge.Output{SchemaVersion: 1, Applied: true, Target: 12, AutoMergeState: "enabled"}, out)
	f.AssertNumberOfCalls(t, "EnableAutoMerge", 1)
	f.AssertExpectations(t)
}

func TestApplyAlreadyEnabledNeverEnables(t *testing.T) {
	ctx := context.Background()
	f := &forgeMock{}
	f.On("PullRequestDetail", ctx, 3).Return(forge.PullRequestDetail{Number: 3, Head: "jules-planner-t", AutoMergeEnabled: true}, nil)

	out, err := automerge.Apply(ctx, f, 3)
	require.NoError(t, err)
	require.False(t, out.Applied)
	require.Equal(t, "already_enabled", out.AutoMergeState)
	f.AssertNotCalled(t, "ListPullRequestFiles", mock.Anything, mock.Anything)
	f.AssertNotCalled(t, "EnableAutoMerge", mock.Anything, mock.Anything)
}

func TestApplySkipsOutOfScope(t *testing.T) {
	ctx := context.Background()
	f := &forgeMock{}
	f.On("PullRequestDetail", ctx, 4).Return(forge.PullRequestDetail{Number: 4, Head: "jules-narrator-t"}, nil)
	f.On("ListPullRequestFiles", ctx, 4).Return([]string{"src/main.rs"}, nil)

	out, err := automerge.Apply(ctx, f, 4)
	require.NoError(t, err)
	require.False(t, out.Applied)
	require.Contains(t, out.SkippedReason, "src/main.rs")
	f.AssertNotCalled(t, "EnableAutoMerge", mock.Anything, mock.Anything)
}
