package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dbarchive/sqlbackup/pkg/chunk"
	"github.com/dbarchive/sqlbackup/pkg/sqlclient"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func decls(n int) []sqlclient.ColumnDecl {
	out := make([]sqlclient.ColumnDecl, n)
	for i := range out {
		out[i] = sqlclient.ColumnDecl{Name: string(rune('a' + i))}
	}
	return out
}

func TestPushRowFlushesAtCapacity(t *testing.T) {
	var flushes [][]int
	mgr := New(func(_ context.Context, columns [][]chunk.Value, rowCount int) error {
		flushes = append(flushes, []int{len(columns), rowCount})
		return nil
	}, decls(2), 2, sqlclient.ServerMySQL)

	ctx := context.Background()
	require.NoError(t, mgr.PushRow(ctx, []chunk.Value{chunk.Int64Value(1), chunk.TextValue("a")}))
	require.NoError(t, mgr.PushRow(ctx, []chunk.Value{chunk.Int64Value(2), chunk.TextValue("b")}))
	assert.Equal(t, 2, mgr.RowCount())
	require.NoError(t, mgr.PushRow(ctx, []chunk.Value{chunk.Int64Value(3), chunk.TextValue("c")}))

	require.Len(t, flushes, 1)
	assert.Equal(t, []int{2, 2}, flushes[0])
	assert.Equal(t, 1, mgr.RowCount())
}

func TestFlushOnEmptyManagerIsNoop(t *testing.T) {
	called := false
	mgr := New(func(context.Context, [][]chunk.Value, int) error {
		called = true
		return nil
	}, decls(1), 10, sqlclient.ServerMySQL)

	require.NoError(t, mgr.Flush(context.Background()))
	assert.False(t, called)
}

func TestPushBatchExpandsColumnBatchIntoRows(t *testing.T) {
	var gotRows int
	mgr := New(func(_ context.Context, columns [][]chunk.Value, rowCount int) error {
		gotRows = rowCount
		require.Len(t, columns, 1)
		assert.Equal(t, int64(1), columns[0][0].Int64)
		assert.Equal(t, int64(2), columns[0][1].Int64)
		return nil
	}, decls(1), 10, sqlclient.ServerMySQL)

	cb := &chunk.ColumnBatch{
		RowCount:  2,
		Columns:   []chunk.Column{{Kind: chunk.KindInt64, Int64s: []int64{1, 2}}},
		NullMasks: [][]bool{{false, false}},
	}

	ctx := context.Background()
	require.NoError(t, mgr.PushBatch(ctx, cb))
	require.NoError(t, mgr.Flush(ctx))
	assert.Equal(t, 2, gotRows)
}

func TestPushBatchPreservesNulls(t *testing.T) {
	var seen chunk.Value
	mgr := New(func(_ context.Context, columns [][]chunk.Value, rowCount int) error {
		seen = columns[0][0]
		return nil
	}, decls(1), 10, sqlclient.ServerMySQL)

	cb := &chunk.ColumnBatch{
		RowCount:  1,
		Columns:   []chunk.Column{{Kind: chunk.KindInt64, Int64s: []int64{0}}},
		NullMasks: [][]bool{{true}},
	}

	ctx := context.Background()
	require.NoError(t, mgr.PushBatch(ctx, cb))
	require.NoError(t, mgr.Flush(ctx))
	assert.Equal(t, chunk.KindNull, seen.Kind)
}

func TestExecutorErrorPropagatesAndBufferIsNotCleared(t *testing.T) {
	boom := assert.AnError
	mgr := New(func(context.Context, [][]chunk.Value, int) error {
		return boom
	}, decls(1), 10, sqlclient.ServerMySQL)

	ctx := context.Background()
	require.NoError(t, mgr.PushRow(ctx, []chunk.Value{chunk.Int64Value(1)}))
	err := mgr.Flush(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, mgr.RowCount())
}
