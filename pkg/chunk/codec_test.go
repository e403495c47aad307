package chunk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWriterReaderRoundTripHomogeneousColumns(t *testing.T) {
	w := NewWriter(10 * 1024 * 1024)
	rows := [][]Value{
		{Int64Value(1), TextValue("alice"), Float64Value(1.5), BoolValue(true), NullValue()},
		{Int64Value(2), TextValue("bob"), Float64Value(2.5), BoolValue(false), BytesValue([]byte{1, 2, 3})},
		{NullValue(), TextValue("carol"), NullValue(), BoolValue(true), BytesValue([]byte{4})},
	}
	for _, r := range rows {
		w.WriteRow(r)
	}
	encoded := w.Flush()
	require.NotEmpty(t, encoded)

	r := NewReader(encoded)
	var batch ColumnBatch
	ok, err := r.ReadBatch(&batch)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 3, batch.RowCount)
	require.Len(t, batch.Columns, 5)

	assert.Equal(t, KindInt64, batch.Columns[0].Kind)
	assert.Equal(t, []int64{1, 2, 0}, batch.Columns[0].Int64s)
	assert.Equal(t, []bool{false, false, true}, batch.NullMasks[0])

	assert.Equal(t, KindText, batch.Columns[1].Kind)
	assert.Equal(t, []string{"alice", "bob", "carol"}, batch.Columns[1].Texts)

	assert.Equal(t, KindFloat64, batch.Columns[2].Kind)
	assert.Equal(t, []float64{1.5, 2.5, 0}, batch.Columns[2].Float64s)
	assert.Equal(t, []bool{false, false, true}, batch.NullMasks[2])

	assert.Equal(t, KindBool, batch.Columns[3].Kind)
	assert.Equal(t, []bool{true, false, true}, batch.Columns[3].Bools)

	assert.Equal(t, KindBytes, batch.Columns[4].Kind)
	assert.Equal(t, [][]byte{{}, {1, 2, 3}, {4}}, batch.Columns[4].Bytes)

	ok, err = r.ReadBatch(&batch)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestWriterPromotesHeterogeneousColumnToText(t *testing.T) {
	w := NewWriter(10 * 1024 * 1024)
	w.WriteRow([]Value{Int64Value(42)})
	w.WriteRow([]Value{TextValue("oops")})
	w.WriteRow([]Value{BytesValue([]byte("raw"))})
	encoded := w.Flush()

	r := NewReader(encoded)
	var batch ColumnBatch
	ok, err := r.ReadBatch(&batch)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, KindText, batch.Columns[0].Kind)
	assert.Equal(t, []string{"42", "oops", "<binary>"}, batch.Columns[0].Texts)
}

func TestFlushEmptyWriterEmitsValidEmptyDocument(t *testing.T) {
	w := NewWriter(1024)
	encoded := w.Flush()

	r := NewReader(encoded)
	var batch ColumnBatch
	ok, err := r.ReadBatch(&batch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, batch.RowCount)
	assert.Empty(t, batch.Columns)
}

func TestIsChunkFullByByteLimit(t *testing.T) {
	w := NewWriter(20)
	assert.False(t, w.IsChunkFull())
	w.WriteRow([]Value{TextValue("0123456789012345")})
	assert.True(t, w.IsChunkFull())
}

func TestIsChunkFullByRowCeiling(t *testing.T) {
	w := NewWriter(1 << 40)
	for i := 0; i < maxChunkRows; i++ {
		w.WriteRow([]Value{Int64Value(int64(i))})
	}
	assert.True(t, w.IsChunkFull())
}

func TestReaderLegacyBooleanEncodingMatchesPacked(t *testing.T) {
	w := NewWriter(10 * 1024 * 1024)
	for _, v := range []bool{true, false, true, true, false} {
		w.WriteRow([]Value{BoolValue(v)})
	}
	packedEncoded := w.Flush()

	var packedBatch ColumnBatch
	ok, err := NewReader(packedEncoded).ReadBatch(&packedBatch)
	require.NoError(t, err)
	require.True(t, ok)

	legacy := encodeLegacyBoolColumn(t, []bool{true, false, true, true, false})
	var legacyBatch ColumnBatch
	ok, err = NewReader(legacy).ReadBatch(&legacyBatch)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, packedBatch.Columns[0].Bools, legacyBatch.Columns[0].Bools)
}

// encodeLegacyBoolColumn hand-builds a chunk document using the legacy
// bool-per-element encoding for the "t"/"d" column contract, to verify
// the reader's backward-compatibility path independently of the writer
// (which only ever emits the packed form).
func encodeLegacyBoolColumn(t *testing.T, vals []bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	writeArrayHeader(&buf, 1)
	writeMapHeader(&buf, 3)
	writeStr(&buf, "t")
	writeStr(&buf, "bool")
	writeStr(&buf, "d")
	writeArrayHeader(&buf, len(vals))
	for _, v := range vals {
		writeBool(&buf, v)
	}
	writeStr(&buf, "n")
	writeBitPackedArray(&buf, make([]bool, len(vals)))
	return buf.Bytes()
}
