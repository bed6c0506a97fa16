package policy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/policy"
)

func guardAction() *contracts.ProposedAction {
	return &contracts.ProposedAction{
		ID:          "act-1",
		Type:        contracts.ActionSendEmail,
		Integration: "email",
		Payload:     map[string]any{"recipients": []any{"a@example.com"}},
		AgentID:     "agent-7",
		RequestedAt: time.Now(),
	}
}

func TestGuardEvaluates(t *testing.T) {
	e, err := policy.NewGuardEvaluator()
	require.NoError(t, err)

	verdict := contracts.RiskVerdict{Level: contracts.RiskLow, Confidence: 0.9}

	ok, err := e.Evaluate(`verdict.confidence >= 0.8`, guardAction(), verdict)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate(`verdict.confidence >= 0.95`, guardAction(), verdict)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGuardAccessesActionFields(t *testing.T) {
	e, err := policy.NewGuardEvaluator()
	require.NoError(t, err)

	ok, err := e.Evaluate(`action.integration == "email" && size(action.payload.recipients) <= 5`,
		guardAction(), contracts.RiskVerdict{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGuardCompileErrorFailsClosed(t *testing.T) {
	e, err := policy.NewGuardEvaluator()
	require.NoError(t, err)

	ok, err := e.Evaluate(`this is not CEL (`, guardAction(), contracts.RiskVerdict{})
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestGuardNonBoolResultFailsClosed(t *testing.T) {
	e, err := policy.NewGuardEvaluator()
	require.NoError(t, err)

	ok, err := e.Evaluate(`action.integration`, guardAction(), contracts.RiskVerdict{})
	assert.Error(t, err)
	assert.False(t, ok)
}
