package coredb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalogPageSerializeRoundTrip(t *testing.T) {
	cat := NewCatalogPage()
	cat.Tables["users"] = &TableMetadata{
		HeapRootPageID: 1,
		Schema: []ColumnDefinition{
			{Name: "id", DataType: IntType, Constraints: []ColumnConstraint{PrimaryKey}},
			{Name: "name", DataType: TextType},
		},
		Indexes: map[string]IndexMetadata{
			"idx_users_id": {RootPageID: 2, Column: "id", IsUnique: true},
		},
	}

	data, err := cat.Serialize()
	require.NoError(t, err)
	require.Len(t, data, PageSize)

	decoded, err := DeserializeCatalogPage(data)
	require.NoError(t, err)
	require.Contains(t, decoded.Tables, "users")
	require.Equal(t, PageID(1), decoded.Tables["users"].HeapRootPageID)
	require.Equal(t, "id", decoded.Tables["users"].Schema[0].Name)
	require.True(t, decoded.Tables["users"].Schema[0].HasConstraint(PrimaryKey))
	require.Equal(t, PageID(2), decoded.Tables["users"].Indexes["idx_users_id"].RootPageID)
}

func TestCatalogPageDeserializeEmptyIsFreshCatalog(t *testing.T) {
	data := make([]byte, PageSize)
	decoded, err := DeserializeCatalogPage(data)
	require.NoError(t, err)
	require.Empty(t, decoded.Tables)
}

func TestTableMetadataColumnIndex(t *testing.T) {
	meta := &TableMetadata{
		Schema: []ColumnDefinition{{Name: "a", DataType: IntType}, {Name: "b", DataType: TextType}},
	}
	require.Equal(t, 0, meta.columnIndex("a"))
	require.Equal(t, 1, meta.columnIndex("b"))
	require.Equal(t, -1, meta.columnIndex("missing"))
}
