package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jing2uo/etf2db/database/sqlgen"
	"github.com/jing2uo/etf2db/model"
)

// 列顺序与 model 中的声明顺序一致

func scanInstrument(row pgx.Row) (model.Instrument, error) {
	var inst model.Instrument
	var region, status, kind string
	err := row.Scan(&inst.ETFID, &inst.Name, &region, &inst.Currency, &inst.ExpenseRatio,
		&inst.InceptionDate, &status, &kind, &inst.UpdatedAt)
	inst.Region = model.Region(region)
	inst.Status = model.InstrumentStatus(status)
	inst.SeriesKind = model.PriceSeriesKind(kind)
	return inst, err
}

func scanPrice(row pgx.Row) (model.PriceBar, error) {
	var b model.PriceBar
	err := row.Scan(&b.ETFID, &b.TradeDate, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjClose, &b.Volume, &b.Currency)
	return b, err
}

func scanDividend(row pgx.Row) (model.DividendEvent, error) {
	var d model.DividendEvent
	err := row.Scan(&d.ETFID, &d.ExDate, &d.DividendPerUnit, &d.Currency)
	return d, err
}

func scanTRI(row pgx.Row) (model.TRIPoint, error) {
	var p model.TRIPoint
	err := row.Scan(&p.ETFID, &p.TRIDate, &p.TRI, &p.Currency)
	return p, err
}

func scanBacktest(row pgx.Row) (model.BacktestResult, error) {
	var r model.BacktestResult
	err := row.Scan(&r.ETFID, &r.StartDate, &r.WindowLabel, &r.EndDate, &r.TotalReturn, &r.CAGR,
		&r.Volatility, &r.SharpeRatio, &r.MaxDrawdown, &r.ComputedAt)
	return r, err
}

func scanSyncState(row pgx.Row) (model.SyncState, error) {
	var s model.SyncState
	err := row.Scan(&s.ETFID, &s.LastPriceDate, &s.PriceCount, &s.LastDividendDate, &s.DividendCount,
		&s.LastTRIDate, &s.TRICount, &s.UpdatedAt)
	return s, err
}

func queryAll[T any](ctx context.Context, pool DatabasePool, scan func(pgx.Row) (T, error), query string, args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func queryOne[T any](ctx context.Context, pool DatabasePool, scan func(pgx.Row) (T, error), query string, args ...any) (*T, error) {
	v, err := scan(pool.QueryRow(ctx, rebind(query), args...))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (s *Store) ListInstruments(ctx context.Context, region model.Region) ([]model.Instrument, error) {
	query := selectFrom(model.TableInstruments)
	var args []any
	if region != "" {
		query += " WHERE region = ?"
		args = append(args, string(region))
	}
	out, err := queryAll(ctx, s.pool, scanInstrument, query+" ORDER BY etf_id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	return out, nil
}

func (s *Store) GetInstrument(ctx context.Context, etfID string) (*model.Instrument, error) {
	inst, err := queryOne(ctx, s.pool, scanInstrument, selectFrom(model.TableInstruments)+" WHERE etf_id = ?", etfID)
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument %s: %w", etfID, err)
	}
	return inst, nil
}

func (s *Store) QueryPrices(ctx context.Context, etfID string, start, end *time.Time) ([]model.PriceBar, error) {
	query, args := sqlgen.RangeQuery(model.TableDailyPrices, etfID, start, end)
	out, err := queryAll(ctx, s.pool, scanPrice, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices for %s: %w", etfID, err)
	}
	return out, nil
}

func (s *Store) QueryDividends(ctx context.Context, etfID string, start, end *time.Time) ([]model.DividendEvent, error) {
	query, args := sqlgen.RangeQuery(model.TableDividends, etfID, start, end)
	out, err := queryAll(ctx, s.pool, scanDividend, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dividends for %s: %w", etfID, err)
	}
	return out, nil
}

func (s *Store) QueryTRI(ctx context.Context, etfID string, start, end *time.Time) ([]model.TRIPoint, error) {
	query, args := sqlgen.RangeQuery(model.TableTRI, etfID, start, end)
	out, err := queryAll(ctx, s.pool, scanTRI, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tri for %s: %w", etfID, err)
	}
	return out, nil
}

func (s *Store) LatestTRI(ctx context.Context, etfID string) (*model.TRIPoint, error) {
	p, err := queryOne(ctx, s.pool, scanTRI, selectFrom(model.TableTRI)+" WHERE etf_id = ? ORDER BY tri_date DESC LIMIT 1", etfID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest tri for %s: %w", etfID, err)
	}
	return p, nil
}

func (s *Store) QueryBacktests(ctx context.Context, etfID string) ([]model.BacktestResult, error) {
	out, err := queryAll(ctx, s.pool, scanBacktest, selectFrom(model.TableBacktests)+" WHERE etf_id = ? ORDER BY start_date ASC", etfID)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtests for %s: %w", etfID, err)
	}
	return out, nil
}

func (s *Store) GetSyncState(ctx context.Context, etfID string) (*model.SyncState, error) {
	st, err := queryOne(ctx, s.pool, scanSyncState, selectFrom(model.TableSyncStatus)+" WHERE etf_id = ?", etfID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state for %s: %w", etfID, err)
	}
	return st, nil
}
