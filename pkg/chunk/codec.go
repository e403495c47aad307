// Package chunk implements the columnar MessagePack-variant wire format
// used for the rows inside one backup archive entry: a buffering writer
// that accumulates rows and flushes a self-contained document, and a
// reader that yields column batches back out of one.
package chunk

import (
	"bytes"
	"strconv"
)

// Kind identifies the type of a cell value, or (for a Column) the type
// currently established for that column.
type Kind uint8

const (
	// KindNull marks a NULL cell, or an as-yet unestablished column.
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindText
	KindBytes
)

// Value is a single cell: exactly one of NULL, bool, int64, float64, text
// or a byte sequence, picked out by Kind. It is a closed sum type over
// five real variants plus NULL, not an interface{} type switch per
// element.
type Value struct {
	Kind    Kind
	Bool    bool
	Int64   int64
	Float64 float64
	Text    string
	Bytes   []byte
}

func NullValue() Value                 { return Value{Kind: KindNull} }
func BoolValue(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func Int64Value(i int64) Value         { return Value{Kind: KindInt64, Int64: i} }
func Float64Value(f float64) Value     { return Value{Kind: KindFloat64, Float64: f} }
func TextValue(s string) Value         { return Value{Kind: KindText, Text: s} }
func BytesValue(b []byte) Value        { return Value{Kind: KindBytes, Bytes: b} }

// Column is one homogeneously typed column of a ColumnBatch. Only the
// slice matching Kind is populated; KindNull means the column has not yet
// seen a non-NULL value (it has no typed storage, only an implicit length
// equal to the row count via the null mask).
type Column struct {
	Kind     Kind
	Bools    []bool
	Int64s   []int64
	Float64s []float64
	Texts    []string
	Bytes    [][]byte
}

// Len returns the number of elements recorded for this column so far.
func (c *Column) Len() int {
	switch c.Kind {
	case KindBool:
		return len(c.Bools)
	case KindInt64:
		return len(c.Int64s)
	case KindFloat64:
		return len(c.Float64s)
	case KindText:
		return len(c.Texts)
	case KindBytes:
		return len(c.Bytes)
	default:
		return 0
	}
}

// ColumnBatch is a row-count plus one Column per table column, with a
// parallel null mask per column (true where the cell is NULL).
type ColumnBatch struct {
	RowCount  int
	Columns   []Column
	NullMasks [][]bool
}

// Clear empties the batch in place, preserving the established column
// Kinds so a writer can keep reusing the same buffer across chunks.
func (b *ColumnBatch) Clear() {
	b.RowCount = 0
	for i := range b.Columns {
		col := &b.Columns[i]
		col.Bools = col.Bools[:0]
		col.Int64s = col.Int64s[:0]
		col.Float64s = col.Float64s[:0]
		col.Texts = col.Texts[:0]
		col.Bytes = col.Bytes[:0]
		b.NullMasks[i] = b.NullMasks[i][:0]
	}
}

func textOf(v Value) string {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindInt64:
		return strconv.FormatInt(v.Int64, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.Float64, 'g', -1, 64)
	case KindText:
		return v.Text
	case KindBytes:
		return "<binary>"
	default:
		return ""
	}
}

// promoteToText converts every already-written element of col to its
// textual representation and switches col.Kind to KindText. This is the
// writer's lossy promotion path for a column that has received two
// incompatible value kinds; binary values become the literal "<binary>".
func promoteToText(col *Column) {
	n := col.Len()
	texts := make([]string, 0, n)
	switch col.Kind {
	case KindBool:
		for _, v := range col.Bools {
			texts = append(texts, textOf(BoolValue(v)))
		}
	case KindInt64:
		for _, v := range col.Int64s {
			texts = append(texts, textOf(Int64Value(v)))
		}
	case KindFloat64:
		for _, v := range col.Float64s {
			texts = append(texts, textOf(Float64Value(v)))
		}
	case KindText:
		texts = append(texts, col.Texts...)
	case KindBytes:
		for range col.Bytes {
			texts = append(texts, "<binary>")
		}
	}
	col.Bools = nil
	col.Int64s = nil
	col.Float64s = nil
	col.Bytes = nil
	col.Texts = texts
	col.Kind = KindText
}

// appendValue appends v to col (promoting col to text first if v's kind
// disagrees with an already-established column kind) and records the
// corresponding null-mask bit.
func appendValue(col *Column, mask *[]bool, v Value) {
	if v.Kind == KindNull {
		*mask = append(*mask, true)
		switch col.Kind {
		case KindBool:
			col.Bools = append(col.Bools, false)
		case KindInt64:
			col.Int64s = append(col.Int64s, 0)
		case KindFloat64:
			col.Float64s = append(col.Float64s, 0)
		case KindText:
			col.Texts = append(col.Texts, "")
		case KindBytes:
			col.Bytes = append(col.Bytes, nil)
		}
		return
	}

	*mask = append(*mask, false)

	if col.Kind == KindNull {
		col.Kind = v.Kind
		// NULLs seen before the kind was known get zero placeholders so
		// the column's length keeps matching the row count.
		if n := len(*mask) - 1; n > 0 {
			switch col.Kind {
			case KindBool:
				col.Bools = make([]bool, n)
			case KindInt64:
				col.Int64s = make([]int64, n)
			case KindFloat64:
				col.Float64s = make([]float64, n)
			case KindText:
				col.Texts = make([]string, n)
			case KindBytes:
				col.Bytes = make([][]byte, n)
			}
		}
	}

	if col.Kind != v.Kind {
		promoteToText(col)
		col.Texts = append(col.Texts, textOf(v))
		return
	}

	switch col.Kind {
	case KindBool:
		col.Bools = append(col.Bools, v.Bool)
	case KindInt64:
		col.Int64s = append(col.Int64s, v.Int64)
	case KindFloat64:
		col.Float64s = append(col.Float64s, v.Float64)
	case KindText:
		col.Texts = append(col.Texts, v.Text)
	case KindBytes:
		col.Bytes = append(col.Bytes, v.Bytes)
	}
}

// estimateSize is the writer's cheap per-cell byte estimate used to decide
// chunk fullness without re-serializing on every row.
func estimateSize(v Value) int64 {
	switch v.Kind {
	case KindNull:
		return 1
	case KindText:
		return int64(len(v.Text)) + 5
	case KindBytes:
		return int64(len(v.Bytes)) + 5
	default:
		return 9
	}
}

const (
	// maxChunkRows is the hard row-count ceiling a chunk will not exceed
	// regardless of the configured byte limit.
	maxChunkRows = 100000
	kindNil      = "nil"
	kindI64      = "i64"
	kindF64      = "f64"
	kindStr      = "str"
	kindBin      = "bin"
	kindBool     = "bool"
)

func kindTag(k Kind) string {
	switch k {
	case KindBool:
		return kindBool
	case KindInt64:
		return kindI64
	case KindFloat64:
		return kindF64
	case KindText:
		return kindStr
	case KindBytes:
		return kindBin
	default:
		return kindNil
	}
}

// Writer accumulates rows into an in-progress ColumnBatch and flushes it
// to the wire format on demand. A Writer is created per table during
// backup, written to row-by-row, polled for fullness, and flushed; Flush
// resets internal state so the same Writer can be reused for the next
// chunk.
type Writer struct {
	limitBytes     int64
	estimatedBytes int64
	batch          ColumnBatch
	numCols        int
}

// NewWriter returns a Writer that targets chunks of roughly limitBytes.
func NewWriter(limitBytes int64) *Writer {
	return &Writer{limitBytes: limitBytes}
}

// WriteRow appends one row. The first row written establishes the number
// of columns; every later row must have the same length.
func (w *Writer) WriteRow(row []Value) {
	if w.numCols == 0 && len(w.batch.Columns) == 0 {
		w.numCols = len(row)
		w.batch.Columns = make([]Column, w.numCols)
		w.batch.NullMasks = make([][]bool, w.numCols)
	}
	for i, v := range row {
		appendValue(&w.batch.Columns[i], &w.batch.NullMasks[i], v)
		w.estimatedBytes += estimateSize(v)
	}
	w.batch.RowCount++
}

// IsChunkFull reports whether the accumulated estimate has crossed the
// configured byte limit, or the row count has reached the hard ceiling.
func (w *Writer) IsChunkFull() bool {
	return w.estimatedBytes >= w.limitBytes || w.batch.RowCount >= maxChunkRows
}

// Clear discards any buffered rows without serializing them.
func (w *Writer) Clear() {
	w.estimatedBytes = 0
	if len(w.batch.Columns) > 0 {
		w.batch.Clear()
	}
}

// Flush serializes the buffered rows into one MessagePack document and
// resets the writer. Flushing an empty writer produces a valid empty
// array document.
func (w *Writer) Flush() []byte {
	var buf bytes.Buffer
	writeArrayHeader(&buf, len(w.batch.Columns))
	for i := range w.batch.Columns {
		writeColumn(&buf, &w.batch.Columns[i], w.batch.NullMasks[i])
	}
	w.Clear()
	return buf.Bytes()
}

func writeColumn(buf *bytes.Buffer, col *Column, mask []bool) {
	writeMapHeader(buf, 3)
	writeStr(buf, "t")
	writeStr(buf, kindTag(col.Kind))
	writeStr(buf, "d")
	switch col.Kind {
	case KindInt64:
		writePackedInt64Column(buf, col.Int64s)
	case KindFloat64:
		writePackedFloat64Column(buf, col.Float64s)
	case KindText:
		writeArrayHeader(buf, len(col.Texts))
		for _, s := range col.Texts {
			writeStr(buf, s)
		}
	case KindBytes:
		writeArrayHeader(buf, len(col.Bytes))
		for _, b := range col.Bytes {
			writeBin(buf, b)
		}
	case KindBool:
		writeBitPackedArray(buf, col.Bools)
	default:
		writeArrayHeader(buf, 0)
	}
	writeStr(buf, "n")
	writeBitPackedArray(buf, mask)
}
