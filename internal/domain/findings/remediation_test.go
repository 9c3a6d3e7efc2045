package findings

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRemediationAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		findingID uuid.UUID
		branch    string
		wantErr   bool
	}{
		{name: "valid action", findingID: uuid.New(), branch: "fix/cve-2024-1001-spring-security-core", wantErr: false},
		{name: "missing finding", findingID: uuid.Nil, branch: "fix/x", wantErr: true},
		{name: "missing branch", findingID: uuid.New(), branch: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, err := NewRemediationAction(tt.findingID, tt.branch)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, OutcomePending, a.Outcome())
			assert.False(t, a.Outcome().IsTerminal())
			assert.Empty(t, a.PullRequestURL())
		})
	}
}

func TestRemediationAction_Succeed(t *testing.T) {
	t.Parallel()

	a, err := NewRemediationAction(uuid.New(), "fix/cve-2024-1001")
	require.NoError(t, err)

	require.NoError(t, a.Succeed("https://github.com/acme/widgets/pull/42", 42))
	assert.Equal(t, OutcomeSuccess, a.Outcome())
	assert.Equal(t, 42, a.PullRequestNumber())
	assert.False(t, a.CompletedAt().IsZero())

	// Terminal outcomes admit no further changes.
	assert.Error(t, a.Fail("late failure"))
	assert.Error(t, a.Succeed("https://github.com/acme/widgets/pull/43", 43))
}

func TestRemediationAction_Fail(t *testing.T) {
	t.Parallel()

	a, err := NewRemediationAction(uuid.New(), "upgrade/spring-boot-3.1.0")
	require.NoError(t, err)

	require.NoError(t, a.Fail("permission denied: no write access to acme/widgets"))
	assert.Equal(t, OutcomeFailure, a.Outcome())
	assert.Contains(t, a.ErrorDetail(), "permission denied")
	assert.Empty(t, a.PullRequestURL())

	assert.Error(t, a.Succeed("https://github.com/acme/widgets/pull/44", 44))
}
