package layer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/layer"
)

func TestParseAcceptsDirSingularAndLabel(t *testing.T) {
	for _, in := range []string{"observers", "observer", "Observers", " OBSERVER "} {
		l, err := layer.Parse(in)
		require.NoError(t, err, in)
		require.Equal(t, layer.Observers, l)
	}
	_, err := layer.Parse("integrator")
	var verr apperr.ValidationError
	require.True(t, errors.As(err, &verr))
}

func TestLayerAttributes(t *testing.T) {
	cases := []struct {
		l      layer.Layer
		prefix string
		single bool
		issue  bool
	}{
		{layer.Narrator, "jules-narrator-", true, false},
		{layer.Observers, "jules-observer-", false, false},
		{layer.Deciders, "jules-decider-", false, false},
		{layer.Planners, "jules-planner-", true, true},
		{layer.Implementers, "jules-implementer-", true, true},
		{layer.Innovators, "jules-innovator-", false, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.prefix, tc.l.BranchPrefix(), tc.l.String())
		require.Equal(t, tc.single, tc.l.IsSingleRole(), tc.l.String())
		require.Equal(t, tc.issue, tc.l.IsIssueDriven(), tc.l.String())
	}
}

func TestSafePathComponent(t *testing.T) {
	for _, ok := range []string{"qa", "triage_generic", "a-b-1", "Mock"} {
		require.True(t, layer.IsSafePathComponent(ok), ok)
	}
	for _, bad := range []string{"", ".", "..", "a/b", "bad role", "x.yml", "ü"} {
		require.False(t, layer.IsSafePathComponent(bad), bad)
	}
	require.Error(t, layer.ValidateRole("QA"))
	require.NoError(t, layer.ValidateRole("qa"))
}

func TestWorkItemVariantMatchesLayerKind(t *testing.T) {
	_, err := layer.RoleItem(layer.Planners, "qa")
	require.Error(t, err)
	_, err = layer.RequirementItem(layer.Observers, "x.yml")
	require.Error(t, err)

	item, err := layer.RoleItem(layer.Observers, "qa")
	require.NoError(t, err)
	require.Equal(t, "observers/qa", item.String())

	item, err = layer.RequirementItem(layer.Implementers, ".jules/exchange/requirements/a.yml")
	require.NoError(t, err)
	require.Equal(t, "implementers:.jules/exchange/requirements/a.yml", item.String())
}
