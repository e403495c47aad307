// Package metadata encodes and decodes the archive's metadata.json
// sidecar: dialect-neutral schema (columns, keys, indexes, row counts)
// plus server identification and the format version that guards
// forward-compatibility of the archive layout.
package metadata

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/dbarchive/sqlbackup/pkg/progress"
	"github.com/dbarchive/sqlbackup/pkg/sqlclient"
)

// FormatVersion is the only accepted value of the metadata's
// format_version field. A mismatch is an immediate fatal error for
// Restore.
const FormatVersion = "1.0"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Document is the top-level shape of metadata.json.
type Document struct {
	FormatVersion           string         `json:"format_version"`
	CreationTime            string         `json:"creation_time"`
	OriginalConnectionString string        `json:"original_connection_string,omitempty"`
	SchemaName              string         `json:"schema_name"`
	Server                  serverJSON     `json:"server"`
	Schema                  []tableJSON    `json:"schema"`
}

type serverJSON struct {
	Name        string  `json:"name"`
	Version     string  `json:"version"`
	Driver      string  `json:"driver"`
	FullVersion *string `json:"full_version,omitempty"`
}

type columnJSON struct {
	Name            string  `json:"name"`
	IsPrimaryKey    bool    `json:"is_primary_key"`
	IsAutoIncrement bool    `json:"is_auto_increment"`
	IsNullable      bool    `json:"is_nullable"`
	IsUnique        bool    `json:"is_unique"`
	DefaultValue    *string `json:"default_value,omitempty"`
	Type            string  `json:"type"`
	Size            *int    `json:"size,omitempty"`
	Precision       *int    `json:"precision,omitempty"`
	Scale           *int    `json:"scale,omitempty"`
}

type foreignKeyJSON struct {
	Name              string   `json:"name"`
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referenced_table"`
	ReferencedColumns []string `json:"referenced_columns"`
}

type indexJSON struct {
	Name     string   `json:"name"`
	Columns  []string `json:"columns"`
	IsUnique bool     `json:"is_unique"`
}

type tableJSON struct {
	Name        string           `json:"name"`
	Rows        uint64           `json:"rows"`
	Columns     []columnJSON     `json:"columns"`
	ForeignKeys []foreignKeyJSON `json:"foreign_keys"`
	Indexes     []indexJSON      `json:"indexes"`
	PrimaryKeys []string         `json:"primary_keys"`
}

// Create builds the metadata.json content for the given tables.
func Create(server sqlclient.ServerInfo, connectionString string, tables []*sqlclient.Table, schema string) (string, error) {
	doc := Document{
		FormatVersion:             FormatVersion,
		CreationTime:              time.Now().UTC().Format(time.RFC3339),
		OriginalConnectionString:  connectionString,
		SchemaName:                schema,
		Server: serverJSON{
			Name:        server.Name,
			Version:     server.Version,
			Driver:      server.Driver,
			FullVersion: server.FullVersion,
		},
	}

	for _, t := range tables {
		doc.Schema = append(doc.Schema, toTableJSON(t))
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("metadata: encode: %w", err)
	}
	return string(b), nil
}

func toTableJSON(t *sqlclient.Table) tableJSON {
	tj := tableJSON{
		Name:        t.Name,
		Rows:        t.RowCount,
		PrimaryKeys: t.PrimaryKeys,
	}
	for _, c := range t.Columns {
		tj.Columns = append(tj.Columns, columnJSON{
			Name:            c.Name,
			IsPrimaryKey:    c.IsPrimaryKey,
			IsAutoIncrement: c.IsAutoIncrement,
			IsNullable:      c.IsNullable,
			IsUnique:        c.IsUnique,
			DefaultValue:    c.DefaultValue,
			Type:            string(c.Type),
			Size:            c.Size,
			Precision:       c.Precision,
			Scale:           c.Scale,
		})
	}
	for _, fk := range t.ForeignKeys {
		tj.ForeignKeys = append(tj.ForeignKeys, foreignKeyJSON{
			Name:              fk.Name,
			Columns:           fk.Columns,
			ReferencedTable:   fk.ReferencedTable,
			ReferencedColumns: fk.ReferencedColumns,
		})
	}
	for _, idx := range t.Indexes {
		tj.Indexes = append(tj.Indexes, indexJSON{
			Name:     idx.Name,
			Columns:  idx.Columns,
			IsUnique: idx.IsUnique,
		})
	}
	return tj
}

// ErrUnsupportedFormatVersion is returned by Parse when format_version is
// present but not equal to FormatVersion.
var ErrUnsupportedFormatVersion = fmt.Errorf("metadata: unsupported format_version")

// Parse decodes metadata.json into a name → Table map. Unknown column
// types are mapped to sqlclient.TypeText and reported as a Warning
// through prog (if non-nil) rather than failing the parse, to permit
// best-effort restore.
func Parse(data []byte, prog progress.Manager) (map[string]*sqlclient.Table, string, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, "", fmt.Errorf("metadata: decode: %w", err)
	}
	if doc.FormatVersion != "" && doc.FormatVersion != FormatVersion {
		return nil, "", fmt.Errorf("%w: got %q, want %q", ErrUnsupportedFormatVersion, doc.FormatVersion, FormatVersion)
	}

	out := make(map[string]*sqlclient.Table, len(doc.Schema))
	for _, tj := range doc.Schema {
		t := &sqlclient.Table{
			Name:        tj.Name,
			RowCount:    tj.Rows,
			PrimaryKeys: tj.PrimaryKeys,
		}

		pkSet := make(map[string]bool, len(tj.PrimaryKeys))
		for _, pk := range tj.PrimaryKeys {
			pkSet[pk] = true
		}

		for _, cj := range tj.Columns {
			ct := sqlclient.ColumnType(cj.Type)
			if !sqlclient.KnownColumnTypes[ct] {
				if prog != nil {
					prog.Update(progress.Event{
						State:     progress.Warning,
						TableName: tj.Name,
						Message:   fmt.Sprintf("unknown column type %q for %s.%s, defaulting to text", cj.Type, tj.Name, cj.Name),
					})
				}
				ct = sqlclient.TypeText
			}
			isPK := cj.IsPrimaryKey
			if !isPK && pkSet[cj.Name] {
				isPK = true
			}
			if isPK && len(t.PrimaryKeys) == 0 && !pkSet[cj.Name] {
				t.PrimaryKeys = append(t.PrimaryKeys, cj.Name)
			}
			t.Columns = append(t.Columns, sqlclient.ColumnDecl{
				Name:            cj.Name,
				Type:            ct,
				Size:            cj.Size,
				Precision:       cj.Precision,
				Scale:           cj.Scale,
				IsPrimaryKey:    isPK,
				IsAutoIncrement: cj.IsAutoIncrement,
				IsNullable:      cj.IsNullable,
				IsUnique:        cj.IsUnique,
				DefaultValue:    cj.DefaultValue,
			})
		}

		for _, fkj := range tj.ForeignKeys {
			t.ForeignKeys = append(t.ForeignKeys, sqlclient.ForeignKey{
				Name:              fkj.Name,
				Columns:           fkj.Columns,
				ReferencedTable:   fkj.ReferencedTable,
				ReferencedColumns: fkj.ReferencedColumns,
			})
		}
		for _, idxj := range tj.Indexes {
			t.Indexes = append(t.Indexes, sqlclient.IndexDef{
				Name:     idxj.Name,
				Columns:  idxj.Columns,
				IsUnique: idxj.IsUnique,
			})
		}

		out[tj.Name] = t
	}

	return out, doc.SchemaName, nil
}
