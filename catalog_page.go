package coredb

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// DataType enumerates the column types this engine understands.
type DataType int

const (
	IntType DataType = iota
	FloatType
	TextType
)

func (t DataType) String() string {
	switch t {
	case IntType:
		return "INT"
	case FloatType:
		return "FLOAT"
	case TextType:
		return "TEXT"
	default:
		return "UNKNOWN"
	}
}

// ColumnConstraint enumerates the constraints a column may carry.
type ColumnConstraint int

const (
	NoConstraint ColumnConstraint = iota
	PrimaryKey
	Unique
)

// ColumnDefinition describes one column of a table's schema, in
// declaration order (order matters: it is the row's wire order).
type ColumnDefinition struct {
	Name        string             `msgpack:"name"`
	DataType    DataType           `msgpack:"data_type"`
	Constraints []ColumnConstraint `msgpack:"constraints"`
	Length      int                `msgpack:"length,omitempty"`
}

func (c ColumnDefinition) HasConstraint(want ColumnConstraint) bool {
	for _, c := range c.Constraints {
		if c == want {
			return true
		}
	}
	return false
}

// IndexMetadata is the catalog's record of one B+-tree index.
type IndexMetadata struct {
	RootPageID PageID `msgpack:"root_page_id"`
	Column     string `msgpack:"column"`
	IsUnique   bool   `msgpack:"is_unique"`
}

// TableMetadata is the catalog's full record of one table.
type TableMetadata struct {
	HeapRootPageID PageID                   `msgpack:"heap_root_page_id"`
	Schema         []ColumnDefinition       `msgpack:"schema"`
	Indexes        map[string]IndexMetadata `msgpack:"indexes"`
}

func (t *TableMetadata) columnIndex(name string) int {
	for i, c := range t.Schema {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// CatalogPage is the in-memory form of page 0: a name-indexed map of
// every table's metadata. It is encoded with msgpack (a self-describing
// binary format) rather than the fixed layout used for data/heap/B+-tree
// pages, since its shape is inherently variable (arbitrary schemas and
// index sets).
type CatalogPage struct {
	Tables map[string]*TableMetadata
}

// NewCatalogPage returns an empty catalog.
func NewCatalogPage() *CatalogPage {
	return &CatalogPage{Tables: make(map[string]*TableMetadata)}
}

// GetTable returns a table's metadata, or nil if it doesn't exist.
func (c *CatalogPage) GetTable(name string) *TableMetadata {
	return c.Tables[name]
}

// Serialize encodes the catalog as [4-byte LE length][msgpack bytes],
// zero-padded to PageSize. Returns ErrPageFull if the document doesn't
// fit.
func (c *CatalogPage) Serialize() ([]byte, error) {
	body, err := msgpack.Marshal(c.Tables)
	if err != nil {
		return nil, fmt.Errorf("%w: encode catalog: %v", ErrDecode, err)
	}
	if len(body)+4 > PageSize {
		return nil, fmt.Errorf("%w: catalog page (%d bytes)", ErrPageFull, len(body)+4)
	}
	out := make([]byte, PageSize)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// DeserializeCatalogPage decodes a page written by Serialize. A
// zero-length document (including a page that is entirely zero bytes, as
// happens on first boot) yields an empty catalog rather than an error.
func DeserializeCatalogPage(data []byte) (*CatalogPage, error) {
	if len(data) < 4 {
		return NewCatalogPage(), nil
	}
	length := binary.LittleEndian.Uint32(data[0:4])
	if length == 0 || int(length) > len(data)-4 {
		return NewCatalogPage(), nil
	}
	var tables map[string]*TableMetadata
	if err := msgpack.Unmarshal(data[4:4+length], &tables); err != nil {
		return nil, fmt.Errorf("%w: decode catalog: %v", ErrDecode, err)
	}
	if tables == nil {
		tables = make(map[string]*TableMetadata)
	}
	return &CatalogPage{Tables: tables}, nil
}

// isAllZero reports whether a freshly fetched page 0 has never been
// written — used to distinguish "brand new database file" from "existing
// database with an empty catalog" at startup.
func isAllZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
