package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbarchive/sqlbackup/pkg/sqlclient"
)

func table(name string, fks ...sqlclient.ForeignKey) *sqlclient.Table {
	return &sqlclient.Table{
		Name:        name,
		PrimaryKeys: []string{"id"},
		Columns: []sqlclient.ColumnDecl{
			{Name: "id", Type: sqlclient.TypeInt64, IsPrimaryKey: true, IsAutoIncrement: true},
			{Name: "name", Type: sqlclient.TypeText},
		},
		ForeignKeys: fks,
	}
}

func TestBuildCreateTableSQLIncludesColumnsAndPK(t *testing.T) {
	sql := BuildCreateTableSQL("app", table("users"), sqlclient.ServerMySQL, false)
	assert.Contains(t, sql, `CREATE TABLE "app"."users"`)
	assert.Contains(t, sql, `"id" BIGINT NOT NULL AUTO_INCREMENT`)
	assert.Contains(t, sql, `PRIMARY KEY ("id")`)
}

func TestFormatTableNameDropsSchemaForSQLite(t *testing.T) {
	assert.Equal(t, `"users"`, FormatTableName("app", "users", sqlclient.ServerSQLite))
	assert.Equal(t, `"app"."users"`, FormatTableName("app", "users", sqlclient.ServerMySQL))
}

func TestBuildCreateTableSQLInlinesForeignKeysOnlyWhenRequested(t *testing.T) {
	fk := sqlclient.ForeignKey{Name: "fk_owner", Columns: []string{"name"}, ReferencedTable: "owners", ReferencedColumns: []string{"id"}}
	withFK := BuildCreateTableSQL("app", table("users", fk), sqlclient.ServerSQLite, true)
	withoutFK := BuildCreateTableSQL("app", table("users", fk), sqlclient.ServerMySQL, false)
	assert.Contains(t, withFK, "FOREIGN KEY")
	assert.NotContains(t, withoutFK, "FOREIGN KEY")
}

func TestValidateRejectsMalformedSQL(t *testing.T) {
	require.NoError(t, Validate(`CREATE TABLE users (id BIGINT NOT NULL, PRIMARY KEY (id))`))
	assert.Error(t, Validate(`CREATE TABLE (((`))
}

func TestComputeTableCreationOrderNonSQLiteIsAlphabetical(t *testing.T) {
	tables := map[string]*sqlclient.Table{
		"b": table("b"),
		"a": table("a"),
	}
	assert.Equal(t, []string{"a", "b"}, ComputeTableCreationOrder(tables, false))
}

func TestComputeTableCreationOrderSQLiteRespectsForeignKeys(t *testing.T) {
	fk := sqlclient.ForeignKey{Name: "fk_owner", Columns: []string{"owner_id"}, ReferencedTable: "owners", ReferencedColumns: []string{"id"}}
	tables := map[string]*sqlclient.Table{
		"pets":   table("pets", fk),
		"owners": table("owners"),
	}
	order := ComputeTableCreationOrder(tables, true)
	require.Len(t, order, 2)
	assert.Equal(t, "owners", order[0])
	assert.Equal(t, "pets", order[1])
}

func TestComputeTableCreationOrderSQLiteSelfReferenceIsNotACycle(t *testing.T) {
	fk := sqlclient.ForeignKey{Name: "fk_parent", Columns: []string{"parent_id"}, ReferencedTable: "nodes", ReferencedColumns: []string{"id"}}
	tables := map[string]*sqlclient.Table{
		"nodes": table("nodes", fk),
	}
	assert.Equal(t, []string{"nodes"}, ComputeTableCreationOrder(tables, true))
}

func TestComputeTableCreationOrderSQLiteBreaksCyclesByFallingBack(t *testing.T) {
	fkToB := sqlclient.ForeignKey{Name: "fk_b", Columns: []string{"b_id"}, ReferencedTable: "b", ReferencedColumns: []string{"id"}}
	fkToA := sqlclient.ForeignKey{Name: "fk_a", Columns: []string{"a_id"}, ReferencedTable: "a", ReferencedColumns: []string{"id"}}
	tables := map[string]*sqlclient.Table{
		"a": table("a", fkToB),
		"b": table("b", fkToA),
	}
	order := ComputeTableCreationOrder(tables, true)
	assert.ElementsMatch(t, []string{"a", "b"}, order)
}
