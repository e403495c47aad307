// Package batch accumulates rows (or whole columnar chunks) into
// fixed-capacity, column-bound buffers and flushes them through a
// caller-supplied bulk executor, the way a prepared INSERT statement's
// bound parameter arrays are filled before ExecuteBatch.
package batch

import (
	"context"

	"github.com/dbarchive/sqlbackup/pkg/chunk"
	"github.com/dbarchive/sqlbackup/pkg/sqlclient"
)

// Executor runs one bulk-insert call over columns (one []chunk.Value per
// declared column, each of length rowCount).
type Executor func(ctx context.Context, columns [][]chunk.Value, rowCount int) error

// Manager owns one column-bound buffer per declared column and flushes to
// the executor when a row arrives while the buffer is already at
// capacity, or when Flush is called explicitly.
type Manager struct {
	executor   Executor
	columns    [][]chunk.Value
	rowCount   int
	capacity   int
	serverType sqlclient.ServerType
}

// New creates a Manager sized for the given column declarations and
// server type. The manager only owns buffering; neither it nor its
// callers apply MSSQL-specific LOB-size or decimal handling.
func New(executor Executor, colDecls []sqlclient.ColumnDecl, capacity int, serverType sqlclient.ServerType) *Manager {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Manager{
		executor:   executor,
		columns:    make([][]chunk.Value, len(colDecls)),
		capacity:   capacity,
		serverType: serverType,
	}
}

// PushRow appends one row's cells, flushing first if the buffer is at
// capacity.
func (m *Manager) PushRow(ctx context.Context, row []chunk.Value) error {
	if m.rowCount >= m.capacity {
		if err := m.Flush(ctx); err != nil {
			return err
		}
	}
	for i, v := range row {
		m.columns[i] = append(m.columns[i], v)
	}
	m.rowCount++
	return nil
}

// PushBatch appends every row of a decoded chunk.ColumnBatch, flushing
// whenever capacity is reached partway through.
func (m *Manager) PushBatch(ctx context.Context, cb *chunk.ColumnBatch) error {
	for r := 0; r < cb.RowCount; r++ {
		row := make([]chunk.Value, len(cb.Columns))
		for c := range cb.Columns {
			row[c] = valueAt(&cb.Columns[c], cb.NullMasks[c], r)
		}
		if err := m.PushRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func valueAt(col *chunk.Column, mask []bool, i int) chunk.Value {
	if i < len(mask) && mask[i] {
		return chunk.NullValue()
	}
	switch col.Kind {
	case chunk.KindBool:
		return chunk.BoolValue(col.Bools[i])
	case chunk.KindInt64:
		return chunk.Int64Value(col.Int64s[i])
	case chunk.KindFloat64:
		return chunk.Float64Value(col.Float64s[i])
	case chunk.KindText:
		return chunk.TextValue(col.Texts[i])
	case chunk.KindBytes:
		return chunk.BytesValue(col.Bytes[i])
	default:
		return chunk.NullValue()
	}
}

// Flush executes any buffered rows and clears the buffers. Flushing an
// empty manager is a no-op.
func (m *Manager) Flush(ctx context.Context) error {
	if m.rowCount == 0 {
		return nil
	}
	if err := m.executor(ctx, m.columns, m.rowCount); err != nil {
		return err
	}
	for i := range m.columns {
		m.columns[i] = m.columns[i][:0]
	}
	m.rowCount = 0
	return nil
}

// RowCount returns the number of rows currently buffered (not yet
// flushed).
func (m *Manager) RowCount() int { return m.rowCount }
