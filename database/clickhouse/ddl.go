package clickhouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/jing2uo/etf2db/model"
)

// PublishedTables 推送到 ClickHouse 的表
var PublishedTables = []*model.TableMeta{
	model.TableInstruments,
	model.TableTRI,
	model.TableBacktests,
}

// mapType 低基数字符串用 LowCardinality，可空列包 Nullable
func mapType(col model.Column) string {
	var t string
	switch col.Type {
	case model.TypeString:
		switch col.Name {
		case "etf_id", "region", "currency", "status", "series_kind", "window_label":
			t = "LowCardinality(String)"
		default:
			t = "String"
		}
	case model.TypeFloat64:
		t = "Float64"
	case model.TypeInt64:
		t = "Int64"
	case model.TypeDate:
		t = "Date32"
	case model.TypeDateTime:
		t = "DateTime64(0, 'UTC')"
	default:
		t = "String"
	}
	if col.Nullable {
		return fmt.Sprintf("Nullable(%s)", t)
	}
	return t
}

// createTableSQL ReplacingMergeTree 按排序键去重，重复发布以最后一次为准
func createTableSQL(meta *model.TableMeta) string {
	defs := make([]string, len(meta.Columns))
	for i, col := range meta.Columns {
		defs[i] = fmt.Sprintf("%s %s", col.Name, mapType(col))
	}

	orderBy := "tuple()"
	if len(meta.KeyColumns) > 0 {
		orderBy = "(" + strings.Join(meta.KeyColumns, ", ") + ")"
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = ReplacingMergeTree() ORDER BY %s",
		meta.TableName, strings.Join(defs, ", "), orderBy)
}

func (p *Publisher) createTableInternal(ctx context.Context, meta *model.TableMeta) error {
	_, err := p.db.ExecContext(ctx, createTableSQL(meta))
	return err
}

func (p *Publisher) registerViews() {
	p.viewImpls[model.ViewLatestTRI] = func(ctx context.Context) error {
		query := fmt.Sprintf(`
			CREATE OR REPLACE VIEW %s AS
			SELECT
				etf_id,
				max(tri_date) AS tri_date,
				argMax(tri, tri_date) AS tri,
				argMax(currency, tri_date) AS currency
			FROM %s FINAL
			GROUP BY etf_id
		`, model.ViewLatestTRI, model.TableTRI.TableName)
		_, err := p.db.ExecContext(ctx, query)
		return err
	}

	p.viewImpls[model.ViewBacktestLatest] = func(ctx context.Context) error {
		query := fmt.Sprintf(`
			CREATE OR REPLACE VIEW %s AS
			SELECT
				b.etf_id AS etf_id,
				e.etf_name AS etf_name,
				e.region AS region,
				b.window_label AS window_label,
				b.start_date AS start_date,
				b.end_date AS end_date,
				b.total_return AS total_return,
				b.cagr AS cagr,
				b.volatility AS volatility,
				b.sharpe_ratio AS sharpe_ratio,
				b.max_drawdown AS max_drawdown,
				b.computed_at AS computed_at
			FROM %s AS b FINAL
			INNER JOIN (
				SELECT etf_id, max(end_date) AS end_date FROM %s FINAL GROUP BY etf_id
			) AS m ON b.etf_id = m.etf_id AND b.end_date = m.end_date
			LEFT JOIN %s AS e FINAL ON e.etf_id = b.etf_id
		`, model.ViewBacktestLatest, model.TableBacktests.TableName, model.TableBacktests.TableName, model.TableInstruments.TableName)
		_, err := p.db.ExecContext(ctx, query)
		return err
	}
}
