package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jing2uo/etf2db/database/sqlgen"
	"github.com/jing2uo/etf2db/model"
	"github.com/jmoiron/sqlx"
)

// writeBatches 在一个事务里分批执行多值 INSERT，返回受影响行数
func writeBatches[T any](ctx context.Context, db *sqlx.DB, meta *model.TableMeta, rows []T, stmt func(*model.TableMeta, int) string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var affected int64
	for _, args := range sqlgen.Batches(meta, rows) {
		n := len(args) / len(meta.Columns)
		res, err := tx.ExecContext(ctx, stmt(meta, n), args...)
		if err != nil {
			return 0, fmt.Errorf("write %s: %w", meta.TableName, err)
		}
		if ra, err := res.RowsAffected(); err == nil {
			affected += ra
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", meta.TableName, err)
	}
	return affected, nil
}

func (d *Driver) UpsertInstruments(ctx context.Context, insts []model.Instrument) error {
	_, err := writeBatches(ctx, d.db, model.TableInstruments, insts, sqlgen.Upsert)
	return err
}

func (d *Driver) ListInstruments(ctx context.Context, region model.Region) ([]model.Instrument, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", columns(model.TableInstruments), model.TableInstruments.TableName)
	var args []any
	if region != "" {
		query += " WHERE region = ?"
		args = append(args, string(region))
	}
	query += " ORDER BY etf_id"

	var out []model.Instrument
	if err := d.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	return out, nil
}

func (d *Driver) GetInstrument(ctx context.Context, etfID string) (*model.Instrument, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE etf_id = ?", columns(model.TableInstruments), model.TableInstruments.TableName)
	var inst model.Instrument
	if err := d.db.GetContext(ctx, &inst, query, etfID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get instrument %s: %w", etfID, err)
	}
	return &inst, nil
}

func (d *Driver) UpdateInstrumentStatus(ctx context.Context, etfID string, status model.InstrumentStatus) error {
	query := fmt.Sprintf("UPDATE %s SET status = ?, updated_at = ? WHERE etf_id = ?", model.TableInstruments.TableName)
	_, err := d.db.ExecContext(ctx, query, string(status), time.Now().UTC(), etfID)
	return err
}

func (d *Driver) InsertPrices(ctx context.Context, bars []model.PriceBar) (int64, error) {
	return writeBatches(ctx, d.db, model.TableDailyPrices, bars, sqlgen.InsertIgnore)
}

func (d *Driver) InsertDividends(ctx context.Context, events []model.DividendEvent) (int64, error) {
	return writeBatches(ctx, d.db, model.TableDividends, events, sqlgen.InsertIgnore)
}

func (d *Driver) UpsertTRI(ctx context.Context, points []model.TRIPoint) error {
	_, err := writeBatches(ctx, d.db, model.TableTRI, points, sqlgen.Upsert)
	return err
}

func (d *Driver) UpsertBacktests(ctx context.Context, results []model.BacktestResult) error {
	_, err := writeBatches(ctx, d.db, model.TableBacktests, results, sqlgen.Upsert)
	return err
}

func (d *Driver) QueryPrices(ctx context.Context, etfID string, start, end *time.Time) ([]model.PriceBar, error) {
	var out []model.PriceBar
	query, args := sqlgen.RangeQuery(model.TableDailyPrices, etfID, start, end)
	if err := d.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query prices for %s: %w", etfID, err)
	}
	return out, nil
}

func (d *Driver) QueryDividends(ctx context.Context, etfID string, start, end *time.Time) ([]model.DividendEvent, error) {
	var out []model.DividendEvent
	query, args := sqlgen.RangeQuery(model.TableDividends, etfID, start, end)
	if err := d.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query dividends for %s: %w", etfID, err)
	}
	return out, nil
}

func (d *Driver) QueryTRI(ctx context.Context, etfID string, start, end *time.Time) ([]model.TRIPoint, error) {
	var out []model.TRIPoint
	query, args := sqlgen.RangeQuery(model.TableTRI, etfID, start, end)
	if err := d.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query tri for %s: %w", etfID, err)
	}
	return out, nil
}

func (d *Driver) LatestTRI(ctx context.Context, etfID string) (*model.TRIPoint, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE etf_id = ? ORDER BY tri_date DESC LIMIT 1",
		columns(model.TableTRI), model.TableTRI.TableName)

	var p model.TRIPoint
	if err := d.db.GetContext(ctx, &p, query, etfID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest tri for %s: %w", etfID, err)
	}
	return &p, nil
}

func (d *Driver) QueryBacktests(ctx context.Context, etfID string) ([]model.BacktestResult, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE etf_id = ? ORDER BY start_date ASC",
		columns(model.TableBacktests), model.TableBacktests.TableName)

	var out []model.BacktestResult
	if err := d.db.SelectContext(ctx, &out, query, etfID); err != nil {
		return nil, fmt.Errorf("failed to query backtests for %s: %w", etfID, err)
	}
	return out, nil
}

func (d *Driver) GetSyncState(ctx context.Context, etfID string) (*model.SyncState, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE etf_id = ?",
		columns(model.TableSyncStatus), model.TableSyncStatus.TableName)

	var s model.SyncState
	if err := d.db.GetContext(ctx, &s, query, etfID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync state for %s: %w", etfID, err)
	}
	return &s, nil
}

func (d *Driver) EnsureSyncState(ctx context.Context, etfIDs ...string) error {
	now := time.Now().UTC()
	rows := make([]model.SyncState, len(etfIDs))
	for i, id := range etfIDs {
		rows[i] = model.SyncState{ETFID: id, UpdatedAt: now}
	}
	_, err := writeBatches(ctx, d.db, model.TableSyncStatus, rows, sqlgen.InsertIgnore)
	return err
}

func (d *Driver) AdvanceSyncState(ctx context.Context, etfID string, kind model.SeriesKind, last time.Time, count int64) (bool, error) {
	query, err := sqlgen.AdvanceCursor(kind)
	if err != nil {
		return false, err
	}
	if err := d.EnsureSyncState(ctx, etfID); err != nil {
		return false, err
	}

	res, err := d.db.ExecContext(ctx, query, sqlgen.AdvanceCursorArgs(etfID, model.TruncateDay(last), count, time.Now().UTC())...)
	if err != nil {
		return false, fmt.Errorf("failed to advance %s cursor for %s: %w", kind, etfID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *Driver) SeriesSummary(ctx context.Context, etfID string, kind model.SeriesKind) (model.SeriesSummary, error) {
	meta := model.SeriesTable(kind)
	if meta == nil {
		return model.SeriesSummary{}, fmt.Errorf("unknown series kind: %s", kind)
	}
	latestQ, countQ := sqlgen.Summary(meta)

	var summary model.SeriesSummary
	if err := d.db.GetContext(ctx, &summary.Count, countQ, etfID); err != nil {
		return summary, fmt.Errorf("failed to count %s for %s: %w", meta.TableName, etfID, err)
	}
	if summary.Count == 0 {
		return summary, nil
	}

	var latest time.Time
	if err := d.db.QueryRowxContext(ctx, latestQ, etfID).Scan(&latest); err != nil {
		return summary, fmt.Errorf("failed to read latest %s for %s: %w", meta.TableName, etfID, err)
	}
	latest = model.TruncateDay(latest)
	summary.Last = &latest
	return summary, nil
}

func columns(meta *model.TableMeta) string {
	return strings.Join(meta.ColumnNames(), ", ")
}
