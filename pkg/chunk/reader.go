package chunk

import "math"

// Reader is a stateless cursor over one chunk's encoded bytes. A chunk
// entry normally holds exactly one flushed document, but the reader
// tolerates several concatenated documents in a single buffer (the same
// shape a restore worker would see if a producer ever flushes more than
// once per archive entry), returning each as a separate ReadBatch call.
type Reader struct {
	cur *cursor
}

// NewReader wraps raw chunk bytes for reading.
func NewReader(data []byte) *Reader {
	return &Reader{cur: newCursor(data)}
}

// ReadBatch reads the next document into out, reusing out's storage.
// It returns false, nil at end of input.
func (r *Reader) ReadBatch(out *ColumnBatch) (bool, error) {
	if r.cur.eof() {
		return false, nil
	}

	numCols, err := r.cur.readArrayHeader()
	if err != nil {
		return false, err
	}

	out.Columns = make([]Column, numCols)
	out.NullMasks = make([][]bool, numCols)
	out.RowCount = 0

	for i := 0; i < numCols; i++ {
		mask, err := readColumn(r.cur, &out.Columns[i])
		if err != nil {
			return false, err
		}
		out.NullMasks[i] = mask
		if len(mask) > out.RowCount {
			out.RowCount = len(mask)
		}
	}

	return true, nil
}

func readColumn(c *cursor, col *Column) ([]bool, error) {
	n, err := c.readMapHeader()
	if err != nil {
		return nil, err
	}

	var mask []bool
	var tag string
	haveTag := false

	for i := 0; i < n; i++ {
		key, err := c.readStr()
		if err != nil {
			return nil, err
		}
		switch key {
		case "t":
			tag, err = c.readStr()
			if err != nil {
				return nil, err
			}
			haveTag = true
		case "d":
			if err := readColumnData(c, col, tag, haveTag); err != nil {
				return nil, err
			}
		case "n":
			mask, err = readBoolArray(c)
			if err != nil {
				return nil, err
			}
		default:
			if err := c.skipValue(); err != nil {
				return nil, err
			}
		}
	}
	return mask, nil
}

func readColumnData(c *cursor, col *Column, tag string, haveTag bool) error {
	if !haveTag {
		return ErrMalformedChunk
	}
	switch tag {
	case kindI64:
		col.Kind = KindInt64
		vals, err := readPackedInt64(c)
		if err != nil {
			return err
		}
		col.Int64s = vals
	case kindF64:
		col.Kind = KindFloat64
		vals, err := readPackedFloat64(c)
		if err != nil {
			return err
		}
		col.Float64s = vals
	case kindStr:
		col.Kind = KindText
		n, err := c.readArrayHeader()
		if err != nil {
			return err
		}
		vals := make([]string, n)
		for i := 0; i < n; i++ {
			vals[i], err = c.readStr()
			if err != nil {
				return err
			}
		}
		col.Texts = vals
	case kindBin:
		col.Kind = KindBytes
		n, err := c.readArrayHeader()
		if err != nil {
			return err
		}
		vals := make([][]byte, n)
		for i := 0; i < n; i++ {
			vals[i], err = c.readBin()
			if err != nil {
				return err
			}
		}
		col.Bytes = vals
	case kindBool:
		col.Kind = KindBool
		vals, err := readBoolArray(c)
		if err != nil {
			return err
		}
		col.Bools = vals
	case kindNil:
		col.Kind = KindNull
		return c.skipValue()
	default:
		return ErrMalformedChunk
	}
	return nil
}

// readBoolArray reads either encoding of a bool/null-mask column:
//   - packed: a 2-element array [count, packedBits]
//   - legacy: `count` individual True/False scalars
//
// The two are told apart by peeking at the element right after the array
// length: in the packed form it is a MessagePack count (not True/False);
// in the legacy form it is the first boolean itself.
func readBoolArray(c *cursor) ([]bool, error) {
	n, err := c.readArrayHeader()
	if err != nil {
		return nil, err
	}
	if n == 2 {
		peek, err := c.peekByte()
		if err != nil {
			return nil, err
		}
		if peek != mpTrue && peek != mpFalse {
			count, err := c.readUint()
			if err != nil {
				return nil, err
			}
			packed, err := c.readBin()
			if err != nil {
				return nil, err
			}
			return unpackBits(packed, int(count)), nil
		}
	}
	vals := make([]bool, n)
	for i := 0; i < n; i++ {
		vals[i], err = c.readBool()
		if err != nil {
			return nil, err
		}
	}
	return vals, nil
}

func unpackBits(packed []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		out[i] = packed[i/8]&(1<<(7-uint(i%8))) != 0
	}
	return out
}

func readPackedInt64(c *cursor) ([]int64, error) {
	raw, err := c.readBin()
	if err != nil {
		return nil, err
	}
	if len(raw)%8 != 0 {
		return nil, ErrMalformedChunk
	}
	n := len(raw) / 8
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = int64(beUint64(raw[i*8:]))
	}
	return out, nil
}

func readPackedFloat64(c *cursor) ([]float64, error) {
	raw, err := c.readBin()
	if err != nil {
		return nil, err
	}
	if len(raw)%8 != 0 {
		return nil, ErrMalformedChunk
	}
	n := len(raw) / 8
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float64frombits(beUint64(raw[i*8:]))
	}
	return out, nil
}

func beUint64(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}
