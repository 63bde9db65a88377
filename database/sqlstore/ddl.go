package sqlstore

import (
	"context"
	"fmt"

	"github.com/jing2uo/etf2db/database/sqlgen"
	"github.com/jing2uo/etf2db/model"
)

func (d *Driver) mapType(col model.Column) string {
	if d.dialect == model.DBTypeSQLite {
		switch col.Type {
		case model.TypeFloat64:
			return "REAL"
		case model.TypeInt64:
			return "INTEGER"
		case model.TypeDate:
			return "DATE"
		case model.TypeDateTime:
			return "TIMESTAMP"
		default:
			return "TEXT"
		}
	}

	switch col.Type {
	case model.TypeFloat64:
		return "DOUBLE"
	case model.TypeInt64:
		return "BIGINT"
	case model.TypeDate:
		return "DATE"
	case model.TypeDateTime:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

func (d *Driver) createTableInternal(ctx context.Context, meta *model.TableMeta) error {
	query := sqlgen.CreateTable(meta, d.mapType)
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", meta.TableName, err)
	}
	return nil
}

// replaceView SQLite 没有 CREATE OR REPLACE VIEW
func (d *Driver) replaceView(ctx context.Context, name model.ViewID, body string) error {
	if _, err := d.db.ExecContext(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s", name)); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx, fmt.Sprintf("CREATE VIEW %s AS %s", name, body))
	return err
}

func (d *Driver) registerViews() {
	// 每个标的最新一个 TRI 点
	d.viewImpls[model.ViewLatestTRI] = func(ctx context.Context) error {
		return d.replaceView(ctx, model.ViewLatestTRI, fmt.Sprintf(`
			SELECT t.etf_id, t.tri_date, t.tri, t.currency
			FROM %s t
			JOIN (
				SELECT etf_id, MAX(tri_date) AS tri_date
				FROM %s
				GROUP BY etf_id
			) m ON t.etf_id = m.etf_id AND t.tri_date = m.tri_date
		`, model.TableTRI.TableName, model.TableTRI.TableName))
	}

	// 最近一次回测（end_date 最大）附带标的名称与地区
	d.viewImpls[model.ViewBacktestLatest] = func(ctx context.Context) error {
		return d.replaceView(ctx, model.ViewBacktestLatest, fmt.Sprintf(`
			SELECT
				b.etf_id,
				e.etf_name,
				e.region,
				b.window_label,
				b.start_date,
				b.end_date,
				b.total_return,
				b.cagr,
				b.volatility,
				b.sharpe_ratio,
				b.max_drawdown,
				b.computed_at
			FROM %s b
			JOIN %s e ON e.etf_id = b.etf_id
			WHERE b.end_date = (
				SELECT MAX(x.end_date) FROM %s x WHERE x.etf_id = b.etf_id
			)
		`, model.TableBacktests.TableName, model.TableInstruments.TableName, model.TableBacktests.TableName))
	}
}
