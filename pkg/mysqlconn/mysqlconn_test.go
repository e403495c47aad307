package mysqlconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dbarchive/sqlbackup/pkg/chunk"
	"github.com/dbarchive/sqlbackup/pkg/sqlclient"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFormatterQuoteIdentifierEscapesBackticks(t *testing.T) {
	f := formatter{}
	assert.Equal(t, "`users`", f.QuoteIdentifier("users"))
	assert.Equal(t, "`a``b`", f.QuoteIdentifier("a`b"))
	assert.Equal(t, "?", f.Placeholder(3))
}

func TestFormatterSelectWithOffsetOrdersAndPaginates(t *testing.T) {
	f := formatter{}
	table := &sqlclient.Table{
		Name: "users",
		Columns: []sqlclient.ColumnDecl{
			{Name: "id", Type: sqlclient.TypeInt64},
			{Name: "name", Type: sqlclient.TypeText},
		},
	}
	q := f.SelectWithOffset("app", table, []string{"id"}, 100, 200)
	assert.Equal(t, "SELECT `id`, `name` FROM `app`.`users` ORDER BY `id` LIMIT 100 OFFSET 200", q)
}

func TestFormatterSelectWithOffsetOmitsSchemaWhenEmpty(t *testing.T) {
	f := formatter{}
	table := &sqlclient.Table{Name: "users", Columns: []sqlclient.ColumnDecl{{Name: "id", Type: sqlclient.TypeInt64}}}
	q := f.SelectWithOffset("", table, nil, 10, 0)
	assert.Equal(t, "SELECT `id` FROM `users` LIMIT 10 OFFSET 0", q)
}

func TestValueToArgRoundTripsEachKind(t *testing.T) {
	assert.Nil(t, valueToArg(chunk.NullValue()))
	assert.Equal(t, true, valueToArg(chunk.BoolValue(true)))
	assert.Equal(t, int64(42), valueToArg(chunk.Int64Value(42)))
	assert.Equal(t, 3.5, valueToArg(chunk.Float64Value(3.5)))
	assert.Equal(t, "hi", valueToArg(chunk.TextValue("hi")))
	assert.Equal(t, []byte{1, 2}, valueToArg(chunk.BytesValue([]byte{1, 2})))
}

func TestMapColumnType(t *testing.T) {
	cases := map[string]sqlclient.ColumnType{
		"int":       sqlclient.TypeInt64,
		"bigint":    sqlclient.TypeInt64,
		"double":    sqlclient.TypeFloat64,
		"decimal":   sqlclient.TypeDecimal,
		"date":      sqlclient.TypeDate,
		"datetime":  sqlclient.TypeDateTime,
		"timestamp": sqlclient.TypeDateTime,
		"blob":      sqlclient.TypeBinary,
		"varchar":   sqlclient.TypeText,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapColumnType(in), in)
	}
}

func TestIsBinaryDBType(t *testing.T) {
	assert.True(t, isBinaryDBType("VARBINARY"))
	assert.True(t, isBinaryDBType("blob"))
	assert.False(t, isBinaryDBType("VARCHAR"))
}

func TestDatabaseNameFromDSN(t *testing.T) {
	name, err := DatabaseNameFromDSN("user:pass@tcp(127.0.0.1:3306)/myapp?parseTime=true")
	require.NoError(t, err)
	assert.Equal(t, "myapp", name)
}

func TestDatabaseNameFromDSNRejectsMalformed(t *testing.T) {
	_, err := DatabaseNameFromDSN("not a dsn")
	assert.Error(t, err)
}
