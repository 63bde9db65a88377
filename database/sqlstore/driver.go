// Package sqlstore 是嵌入式存储：DuckDB（默认）和 SQLite 共用一套 sqlx 实现，
// 只在类型映射和连接参数上区分方言
package sqlstore

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jing2uo/etf2db/model"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
	_ "modernc.org/sqlite"
)

type Driver struct {
	dialect   model.DBType
	dsn       string
	db        *sqlx.DB
	viewImpls map[model.ViewID]func(ctx context.Context) error
}

func NewDriver(cfg model.DBConfig) (*Driver, error) {
	switch cfg.Type {
	case model.DBTypeDuckDB, model.DBTypeSQLite:
	default:
		return nil, fmt.Errorf("sqlstore does not handle %s", cfg.Type)
	}
	return &Driver{
		dialect:   cfg.Type,
		dsn:       cfg.DSN,
		viewImpls: make(map[model.ViewID]func(ctx context.Context) error),
	}, nil
}

func (d *Driver) driverName() string {
	if d.dialect == model.DBTypeSQLite {
		return "sqlite"
	}
	return "duckdb"
}

func (d *Driver) dataSource() string {
	if d.dialect != model.DBTypeSQLite {
		return d.dsn
	}
	// 单连接写入，WAL 允许并发读
	sep := "?"
	if strings.Contains(d.dsn, "?") {
		sep = "&"
	}
	return d.dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
}

func (d *Driver) Connect(ctx context.Context) error {
	db, err := sqlx.Open(d.driverName(), d.dataSource())
	if err != nil {
		return err
	}
	db.Mapper = reflectx.NewMapperFunc("col", strings.ToLower)

	if d.dialect == model.DBTypeSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("%s ping failed: %w", d.dialect, err)
	}

	d.db = db
	return nil
}

func (d *Driver) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func (d *Driver) InitSchema(ctx context.Context) error {
	for _, t := range model.AllTables() {
		if err := d.createTableInternal(ctx, t); err != nil {
			return err
		}
	}

	d.registerViews()
	for _, viewID := range model.AllViews() {
		implFunc, exists := d.viewImpls[viewID]
		if !exists {
			return fmt.Errorf("[%s] missing implementation for required view: %s", d.dialect, viewID)
		}
		if err := implFunc(ctx); err != nil {
			return fmt.Errorf("failed to create view %s: %w", viewID, err)
		}
	}
	return nil
}
