// Package archivezip wraps archive/zip with the compression methods and
// entry bookkeeping a backup archive needs: a deterministic entry layout
// (metadata.json, checksums.json, one data entry per table chunk) and a
// registry of which CompressionMethod values this build actually
// supports.
package archivezip

import (
	"archive/zip"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// CompressionMethod mirrors the wire-level method values recorded per
// zip entry. Only Store, Deflate and Zstd are supported by this build;
// Bzip2, Lzma and Xz are named here but no compressor or decompressor is
// registered for them, so entries using them can be neither written nor
// read, and IsSupported reports them unsupported.
type CompressionMethod uint16

const (
	Store   CompressionMethod = 0
	Deflate CompressionMethod = 8
	Bzip2   CompressionMethod = 12
	Lzma    CompressionMethod = 14
	Zstd    CompressionMethod = 93
	Xz      CompressionMethod = 95
)

// Name returns the lowercase identifier used in user-facing messages.
func (m CompressionMethod) Name() string {
	switch m {
	case Store:
		return "store"
	case Deflate:
		return "deflate"
	case Bzip2:
		return "bzip2"
	case Lzma:
		return "lzma"
	case Zstd:
		return "zstd"
	case Xz:
		return "xz"
	default:
		return "unknown"
	}
}

// IsSupported reports whether this build can write entries using method.
func IsSupported(m CompressionMethod) bool {
	switch m {
	case Store, Deflate, Zstd:
		return true
	default:
		return false
	}
}

// Supported lists every method this build can write, in preference
// order (best compatibility first).
func Supported() []CompressionMethod {
	return []CompressionMethod{Store, Deflate, Zstd}
}

var registerZstdOnce sync.Once

func registerZstd() {
	registerZstdOnce.Do(func() {
		zip.RegisterCompressor(uint16(Zstd), func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w)
		})
		zip.RegisterDecompressor(uint16(Zstd), func(r io.Reader) io.ReadCloser {
			zr, err := zstd.NewReader(r)
			if err != nil {
				return io.NopCloser(errReader{err})
			}
			return zr.IOReadCloser()
		})
	})
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// Writer is an archive under construction. Entries are written one after
// another and never revisited; the backup pipeline writes the table chunk
// entries first, then metadata, then checksums.
type Writer struct {
	zw     *zip.Writer
	method CompressionMethod
	level  int
}

// NewWriter wraps w as a zip archive that writes entries using method
// (Store/Deflate/Zstd) at the given compression level (meaning is
// method-specific; 0 means "use the method's default").
func NewWriter(w io.Writer, method CompressionMethod, level int) (*Writer, error) {
	if !IsSupported(method) {
		return nil, fmt.Errorf("archivezip: unsupported compression method %q", method.Name())
	}
	if method == Zstd {
		registerZstd()
	}
	zw := zip.NewWriter(w)
	if method == Deflate && level != 0 {
		zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, level)
		})
	}
	if method == Zstd && level > 0 {
		zw.RegisterCompressor(uint16(Zstd), func(out io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		})
	}
	return &Writer{zw: zw, method: method, level: level}, nil
}

// CreateEntry opens a new entry named name for writing and returns its
// writer; the caller must fully write and then move on to the next
// entry before calling CreateEntry again, matching archive/zip's
// streaming model.
func (w *Writer) CreateEntry(name string) (io.Writer, error) {
	hdr := &zip.FileHeader{
		Name:   name,
		Method: uint16(w.method),
	}
	return w.zw.CreateHeader(hdr)
}

// Close finalizes the central directory and flushes the underlying
// writer.
func (w *Writer) Close() error {
	return w.zw.Close()
}

// Reader opens an existing archive for entry-by-entry reading.
type Reader struct {
	zr *zip.Reader
}

// NewReader wraps ra (size bytes long) as an archive reader. Any Zstd
// entries are transparently decompressed via the registered
// decompressor.
func NewReader(ra io.ReaderAt, size int64) (*Reader, error) {
	registerZstd()
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("archivezip: open: %w", err)
	}
	return &Reader{zr: zr}, nil
}

// Entry returns the named entry's content as a fully buffered byte
// slice, matching the original engine's ReadZipEntry helper: archive
// entries (metadata, checksums, and one per table chunk) are small
// enough to read whole rather than streamed.
func (r *Reader) Entry(name string) ([]byte, error) {
	f, err := r.find(name)
	if err != nil {
		return nil, err
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("archivezip: open entry %q: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("archivezip: read entry %q: %w", name, err)
	}
	return data, nil
}

// Names lists every entry name in the archive, in central-directory
// order.
func (r *Reader) Names() []string {
	names := make([]string, len(r.zr.File))
	for i, f := range r.zr.File {
		names[i] = f.Name
	}
	return names
}

func (r *Reader) find(name string) (*zip.File, error) {
	for _, f := range r.zr.File {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("archivezip: entry %q not found", name)
}

// Standard archive entry names, fixed across both ends of the pipeline.
const (
	MetadataEntryName  = "metadata.json"
	ChecksumsEntryName = "checksums.json"
)

// DataEntryName builds the deterministic per-chunk entry name for table
// at the given zero-based chunk index.
func DataEntryName(table string, chunkIndex int) string {
	return fmt.Sprintf("data/%s/chunk_%05d.msgpack", table, chunkIndex)
}
