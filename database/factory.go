package database

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jing2uo/etf2db/database/postgres"
	"github.com/jing2uo/etf2db/database/sqlstore"
	"github.com/jing2uo/etf2db/model"
)

// ParseURI 把 duckdb://path、sqlite://path、postgres://... 解析为驱动配置
func ParseURI(uri string) (model.DBConfig, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(uri), "://")
	if !ok {
		return model.DBConfig{}, fmt.Errorf("invalid database uri %q: missing scheme", uri)
	}

	switch strings.ToLower(scheme) {
	case "duckdb":
		return model.DBConfig{Type: model.DBTypeDuckDB, DSN: rest}, nil
	case "sqlite", "sqlite3":
		if rest == "" {
			return model.DBConfig{}, fmt.Errorf("sqlite uri needs a file path")
		}
		return model.DBConfig{Type: model.DBTypeSQLite, DSN: rest}, nil
	case "postgres", "postgresql":
		return model.DBConfig{Type: model.DBTypePostgres, DSN: uri}, nil
	case "clickhouse":
		return model.DBConfig{}, fmt.Errorf("clickhouse is a publish target, use publish.clickhouse_uri")
	default:
		return model.DBConfig{}, fmt.Errorf("unsupported database scheme: %s", scheme)
	}
}

func NewDatabase(cfg model.DBConfig) (DataRepository, error) {
	switch cfg.Type {
	case model.DBTypeDuckDB, model.DBTypeSQLite:
		return sqlstore.NewDriver(cfg)
	case model.DBTypePostgres:
		if _, err := url.Parse(cfg.DSN); err != nil {
			return nil, fmt.Errorf("invalid postgres uri: %w", err)
		}
		return postgres.NewStore(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported db type: %s", cfg.Type)
	}
}

// Open 解析 URI 并返回未连接的存储
func Open(uri string) (DataRepository, error) {
	cfg, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return NewDatabase(cfg)
}
