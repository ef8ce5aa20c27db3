package coredb

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Row is a decoded record: one value per schema column, in column order.
type Row map[string]any

// EncodeRow serializes values (keyed by column name) in schema column
// order: INT as 4-byte LE signed, FLOAT as 4-byte IEEE-754 LE, and
// TEXT/STRING as a 4-byte LE unsigned length prefix followed by UTF-8
// bytes.
func EncodeRow(schema []ColumnDefinition, row Row) ([]byte, error) {
	var out []byte
	for _, col := range schema {
		v, ok := row[col.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, col.Name)
		}
		enc, err := encodeValue(col.DataType, v)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

func encodeValue(dt DataType, v any) ([]byte, error) {
	switch dt {
	case IntType:
		n, ok := toInt(v)
		if !ok {
			return nil, fmt.Errorf("%w: expected INT, got %T", ErrDecode, v)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(int32(n)))
		return buf, nil
	case FloatType:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: expected FLOAT, got %T", ErrDecode, v)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
		return buf, nil
	case TextType:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected TEXT, got %T", ErrDecode, v)
		}
		b := []byte(s)
		buf := make([]byte, 4+len(b))
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(b)))
		copy(buf[4:], b)
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: unknown data type %v", ErrDecode, dt)
	}
}

// DecodeRow decodes a record's bytes back into a Row, in schema order.
func DecodeRow(schema []ColumnDefinition, data []byte) (Row, error) {
	row := make(Row, len(schema))
	offset := 0
	for _, col := range schema {
		v, n, err := decodeValue(col.DataType, data[offset:])
		if err != nil {
			return nil, err
		}
		row[col.Name] = v
		offset += n
	}
	return row, nil
}

// DecodeColumnAtIndex decodes only the column at schema[colIndex], for
// the index manager's populate-on-create-index scan, without decoding
// every preceding or following column's value beyond what's needed to
// skip past it.
func DecodeColumnAtIndex(schema []ColumnDefinition, data []byte, colIndex int) (any, error) {
	offset := 0
	for i, col := range schema {
		v, n, err := decodeValue(col.DataType, data[offset:])
		if err != nil {
			return nil, err
		}
		if i == colIndex {
			return v, nil
		}
		offset += n
	}
	return nil, fmt.Errorf("%w: column index %d", ErrColumnNotFound, colIndex)
}

func decodeValue(dt DataType, data []byte) (any, int, error) {
	switch dt {
	case IntType:
		if len(data) < 4 {
			return nil, 0, fmt.Errorf("%w: truncated INT", ErrDecode)
		}
		return int32(binary.LittleEndian.Uint32(data[0:4])), 4, nil
	case FloatType:
		if len(data) < 4 {
			return nil, 0, fmt.Errorf("%w: truncated FLOAT", ErrDecode)
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(data[0:4])), 4, nil
	case TextType:
		if len(data) < 4 {
			return nil, 0, fmt.Errorf("%w: truncated TEXT length", ErrDecode)
		}
		length := int(binary.LittleEndian.Uint32(data[0:4]))
		if len(data) < 4+length {
			return nil, 0, fmt.Errorf("%w: truncated TEXT body", ErrDecode)
		}
		return string(data[4 : 4+length]), 4 + length, nil
	default:
		return nil, 0, fmt.Errorf("%w: unknown data type %v", ErrDecode, dt)
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	case int:
		return float64(f), true
	default:
		return 0, false
	}
}

// prepareKeyForBTree encodes a column value into the tree's fixed
// BTreeKeySize, regardless of source type: INT is encoded big-endian
// two's complement into 8 bytes (so unsigned byte comparison agrees with
// numeric order for non-negative values; negative values sort after all
// non-negative ones), TEXT/STRING as raw UTF-8 bytes; both are then truncated or
// zero-padded to BTreeKeySize. Every key type funnels through this one
// function, matching the unified encoding the storage layer requires.
func prepareKeyForBTree(dt DataType, v any) (btreeKey, error) {
	var raw []byte
	switch dt {
	case IntType:
		n, ok := toInt(v)
		if !ok {
			return btreeKey{}, fmt.Errorf("%w: expected INT key, got %T", ErrDecode, v)
		}
		raw = make([]byte, 8)
		binary.BigEndian.PutUint64(raw, uint64(n))
	case TextType:
		s, ok := v.(string)
		if !ok {
			return btreeKey{}, fmt.Errorf("%w: expected TEXT key, got %T", ErrDecode, v)
		}
		raw = []byte(s)
	case FloatType:
		f, ok := toFloat(v)
		if !ok {
			return btreeKey{}, fmt.Errorf("%w: expected FLOAT key, got %T", ErrDecode, v)
		}
		raw = make([]byte, 8)
		binary.BigEndian.PutUint64(raw, math.Float64bits(f))
	default:
		return btreeKey{}, fmt.Errorf("%w: unknown data type %v", ErrDecode, dt)
	}

	var key btreeKey
	n := len(raw)
	if n > BTreeKeySize {
		n = BTreeKeySize
	}
	copy(key[:n], raw[:n])
	return key, nil
}
