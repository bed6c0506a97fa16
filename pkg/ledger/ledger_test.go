package ledger_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/ledger"
)

func TestAppendAssignsStrictlyIncreasingSequence(t *testing.T) {
	log := ledger.NewLog(nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		seq, err := log.Append(ctx, ledger.EventDecision, "action:a", map[string]any{"n": i}, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}
	assert.Equal(t, uint64(5), log.Sequence())
}

func TestAppendChainsHashes(t *testing.T) {
	log := ledger.NewLog(nil)
	ctx := context.Background()

	_, err := log.Append(ctx, ledger.EventDecision, "action:a", map[string]any{"k": "v"}, nil)
	require.NoError(t, err)
	_, err = log.Append(ctx, ledger.EventStateChange, "integration:email", map[string]any{"change": "window-exhausted"}, nil)
	require.NoError(t, err)

	events, err := log.Query(ctx, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "genesis", events[0].PreviousHash)
	assert.Equal(t, events[0].Hash, events[1].PreviousHash)
	assert.Equal(t, events[1].Hash, log.Head())

	require.NoError(t, log.VerifyChain(ctx))
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	log := ledger.NewLog(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := log.Append(ctx, ledger.EventDecision, "action:a", map[string]any{"n": i}, nil)
		require.NoError(t, err)
	}
	events, err := log.Query(ctx, ledger.Filter{})
	require.NoError(t, err)

	events[1].Subject = "action:tampered"
	err = log.VerifyChain(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence 2")
}

func TestAppendRedactsPIIBeforePersistence(t *testing.T) {
	log := ledger.NewLog(nil)
	ctx := context.Background()

	payload := map[string]any{
		"action": map[string]any{
			"payload": map[string]any{
				"cc":   "jane.roe@example.com",
				"body": "hello",
			},
		},
		"outcome": "QUEUED",
	}
	_, err := log.Append(ctx, ledger.EventDecision, "action:a", payload, []string{"action.payload.cc"})
	require.NoError(t, err)

	events, err := log.Query(ctx, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)

	var stored map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &stored))
	action := stored["action"].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, ledger.RedactedValue, action["cc"])
	assert.Equal(t, "hello", action["body"])
}

func TestRedactUnresolvablePathIsIgnored(t *testing.T) {
	log := ledger.NewLog(nil)
	_, err := log.Append(context.Background(), ledger.EventDecision, "action:a",
		map[string]any{"k": "v"}, []string{"missing.deeply.nested"})
	require.NoError(t, err)
}

func TestQueryFilters(t *testing.T) {
	log := ledger.NewLog(nil)
	ctx := context.Background()

	_, err := log.Append(ctx, ledger.EventDecision, "action:a", map[string]any{}, nil)
	require.NoError(t, err)
	_, err = log.Append(ctx, ledger.EventEscalation, "approval:r1", map[string]any{}, nil)
	require.NoError(t, err)
	_, err = log.Append(ctx, ledger.EventDecision, "action:b", map[string]any{}, nil)
	require.NoError(t, err)

	byType, err := log.Query(ctx, ledger.Filter{Type: ledger.EventDecision})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	bySubject, err := log.Query(ctx, ledger.Filter{Subject: "approval:r1"})
	require.NoError(t, err)
	require.Len(t, bySubject, 1)
	assert.Equal(t, ledger.EventEscalation, bySubject[0].Type)

	limited, err := log.Query(ctx, ledger.Filter{MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	bySeq, err := log.Query(ctx, ledger.Filter{StartSeq: 2, EndSeq: 3})
	require.NoError(t, err)
	assert.Len(t, bySeq, 2)
}

func TestQueryTimeRange(t *testing.T) {
	log := ledger.NewLog(nil)
	ctx := context.Background()

	_, err := log.Append(ctx, ledger.EventDecision, "action:a", map[string]any{}, nil)
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	events, err := log.Query(ctx, ledger.Filter{StartTime: &future})
	require.NoError(t, err)
	assert.Empty(t, events)
}
