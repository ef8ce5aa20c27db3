package coredb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchema() []ColumnDefinition {
	return []ColumnDefinition{
		{Name: "id", DataType: IntType, Constraints: []ColumnConstraint{PrimaryKey}},
		{Name: "score", DataType: FloatType},
		{Name: "name", DataType: TextType},
	}
}

func TestEncodeDecodeRowRoundTrip(t *testing.T) {
	schema := testSchema()
	row := Row{"id": int32(7), "score": float32(3.5), "name": "alice"}

	data, err := EncodeRow(schema, row)
	require.NoError(t, err)

	decoded, err := DecodeRow(schema, data)
	require.NoError(t, err)
	require.Equal(t, int32(7), decoded["id"])
	require.Equal(t, float32(3.5), decoded["score"])
	require.Equal(t, "alice", decoded["name"])
}

func TestEncodeRowMissingColumn(t *testing.T) {
	schema := testSchema()
	_, err := EncodeRow(schema, Row{"id": int32(1), "score": float32(1)})
	require.ErrorIs(t, err, ErrColumnNotFound)
}

func TestDecodeColumnAtIndex(t *testing.T) {
	schema := testSchema()
	data, err := EncodeRow(schema, Row{"id": int32(42), "score": float32(9.5), "name": "bob"})
	require.NoError(t, err)

	v, err := DecodeColumnAtIndex(schema, data, 2)
	require.NoError(t, err)
	require.Equal(t, "bob", v)

	v, err = DecodeColumnAtIndex(schema, data, 0)
	require.NoError(t, err)
	require.Equal(t, int32(42), v)
}

func TestPrepareKeyForBTreeIntOrderPreserved(t *testing.T) {
	small, err := prepareKeyForBTree(IntType, int64(1))
	require.NoError(t, err)
	big, err := prepareKeyForBTree(IntType, int64(1000))
	require.NoError(t, err)
	require.Negative(t, compareKeys(small, big))
}

func TestPrepareKeyForBTreeTextTruncatesToKeySize(t *testing.T) {
	long := "this string is definitely longer than sixteen bytes"
	key, err := prepareKeyForBTree(TextType, long)
	require.NoError(t, err)
	require.Equal(t, []byte(long)[:BTreeKeySize], key[:])
}

func TestPrepareKeyForBTreeWrongTypeErrors(t *testing.T) {
	_, err := prepareKeyForBTree(IntType, "not an int")
	require.ErrorIs(t, err, ErrDecode)
}
