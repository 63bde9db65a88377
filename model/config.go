package model

type DBType string

const (
	DBTypeDuckDB     DBType = "duckdb"
	DBTypeSQLite     DBType = "sqlite"
	DBTypePostgres   DBType = "postgres"
	DBTypeClickHouse DBType = "clickhouse"
)

type DBConfig struct {
	Type DBType
	DSN  string
}
