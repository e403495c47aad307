package archivezip

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported(Store))
	assert.True(t, IsSupported(Deflate))
	assert.True(t, IsSupported(Zstd))
	assert.False(t, IsSupported(Bzip2))
	assert.False(t, IsSupported(Lzma))
	assert.False(t, IsSupported(Xz))
}

func TestNewWriterRejectsUnsupportedMethod(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewWriter(&buf, Bzip2, 0)
	assert.Error(t, err)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	for _, method := range Supported() {
		method := method
		t.Run(method.Name(), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, method, 0)
			require.NoError(t, err)

			mw, err := w.CreateEntry(MetadataEntryName)
			require.NoError(t, err)
			_, err = mw.Write([]byte(`{"format_version":"1.0"}`))
			require.NoError(t, err)

			dw, err := w.CreateEntry(DataEntryName("users", 0))
			require.NoError(t, err)
			_, err = dw.Write([]byte("chunk-bytes"))
			require.NoError(t, err)

			require.NoError(t, w.Close())

			r, err := NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
			require.NoError(t, err)

			assert.ElementsMatch(t, []string{MetadataEntryName, "data/users/chunk_00000.msgpack"}, r.Names())

			meta, err := r.Entry(MetadataEntryName)
			require.NoError(t, err)
			assert.Equal(t, `{"format_version":"1.0"}`, string(meta))

			data, err := r.Entry(DataEntryName("users", 0))
			require.NoError(t, err)
			assert.Equal(t, "chunk-bytes", string(data))
		})
	}
}

func TestEntryMissingReturnsError(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Store, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	_, err = r.Entry("nope.json")
	assert.Error(t, err)
}

func TestDataEntryNameIsDeterministic(t *testing.T) {
	assert.Equal(t, "data/users/chunk_00003.msgpack", DataEntryName("users", 3))
}
