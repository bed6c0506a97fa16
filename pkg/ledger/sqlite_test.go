package ledger_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/ledger"
)

func openSQLiteLog(t *testing.T, path string) *ledger.SQLiteLog {
	t.Helper()
	db, err := ledger.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	log, err := ledger.NewSQLiteLog(db, nil)
	require.NoError(t, err)
	return log
}

func TestSQLiteLogAppendAndQuery(t *testing.T) {
	log := openSQLiteLog(t, filepath.Join(t.TempDir(), "audit.db"))
	ctx := context.Background()

	seq, err := log.Append(ctx, ledger.EventDecision, "action:a", map[string]any{"outcome": "QUEUED"}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = log.Append(ctx, ledger.EventEscalation, "approval:r1", map[string]any{"level": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	events, err := log.Query(ctx, ledger.Filter{Type: ledger.EventDecision})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "action:a", events[0].Subject)

	require.NoError(t, log.VerifyChain(ctx))
}

func TestSQLiteLogRestoresChainAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	first := openSQLiteLog(t, path)
	_, err := first.Append(ctx, ledger.EventDecision, "action:a", map[string]any{}, nil)
	require.NoError(t, err)
	_, err = first.Append(ctx, ledger.EventDecision, "action:b", map[string]any{}, nil)
	require.NoError(t, err)
	head := first.Head()

	reopened := openSQLiteLog(t, path)
	assert.Equal(t, uint64(2), reopened.Sequence())
	assert.Equal(t, head, reopened.Head())

	seq, err := reopened.Append(ctx, ledger.EventDecision, "action:c", map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	require.NoError(t, reopened.VerifyChain(ctx))
}

func TestSQLiteLogRedaction(t *testing.T) {
	log := openSQLiteLog(t, filepath.Join(t.TempDir(), "audit.db"))
	ctx := context.Background()

	payload := map[string]any{"recipient": "jane.roe@example.com", "note": "ok"}
	_, err := log.Append(ctx, ledger.EventDecision, "action:a", payload, []string{"recipient"})
	require.NoError(t, err)

	events, err := log.Query(ctx, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotContains(t, string(events[0].Payload), "jane.roe@example.com")
	assert.Contains(t, string(events[0].Payload), ledger.RedactedValue)
}
