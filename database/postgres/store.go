package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jing2uo/etf2db/database/sqlgen"
	"github.com/jing2uo/etf2db/model"
	"github.com/jmoiron/sqlx"
)

// DatabasePool pgxpool.Pool 中用到的部分，测试时由 pgxmock 替换
type DatabasePool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type Store struct {
	dsn  string
	pool DatabasePool
}

func NewStore(dsn string) *Store {
	return &Store{dsn: dsn}
}

// NewStoreWithPool 使用已建立的连接池，Connect 不再建连
func NewStoreWithPool(pool DatabasePool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Connect(ctx context.Context) error {
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}

	cfg, err := pgxpool.ParseConfig(s.dsn)
	if err != nil {
		return fmt.Errorf("invalid postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	s.pool = pool
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func rebind(query string) string {
	return sqlx.Rebind(sqlx.DOLLAR, query)
}

func mapType(col model.Column) string {
	switch col.Type {
	case model.TypeFloat64:
		return "DOUBLE PRECISION"
	case model.TypeInt64:
		return "BIGINT"
	case model.TypeDate:
		return "DATE"
	case model.TypeDateTime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

var viewBodies = map[model.ViewID]string{
	model.ViewLatestTRI: `
		SELECT DISTINCT ON (etf_id) etf_id, tri_date, tri, currency
		FROM etf_tris
		ORDER BY etf_id, tri_date DESC`,
	model.ViewBacktestLatest: `
		SELECT b.etf_id, e.etf_name, e.region, b.window_label, b.start_date, b.end_date,
		       b.total_return, b.cagr, b.volatility, b.sharpe_ratio, b.max_drawdown, b.computed_at
		FROM etf_backtests b
		JOIN etfs e ON e.etf_id = b.etf_id
		WHERE b.end_date = (SELECT MAX(x.end_date) FROM etf_backtests x WHERE x.etf_id = b.etf_id)`,
}

func (s *Store) InitSchema(ctx context.Context) error {
	for _, t := range model.AllTables() {
		if _, err := s.pool.Exec(ctx, sqlgen.CreateTable(t, mapType)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.TableName, err)
		}
	}
	for _, viewID := range model.AllViews() {
		body, ok := viewBodies[viewID]
		if !ok {
			return fmt.Errorf("[Postgres] missing implementation for required view: %s", viewID)
		}
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s", viewID, body)); err != nil {
			return fmt.Errorf("failed to create view %s: %w", viewID, err)
		}
	}
	return nil
}

func writeBatches[T any](ctx context.Context, pool DatabasePool, meta *model.TableMeta, rows []T, stmt func(*model.TableMeta, int) string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var affected int64
	for _, args := range sqlgen.Batches(meta, rows) {
		n := len(args) / len(meta.Columns)
		tag, err := tx.Exec(ctx, rebind(stmt(meta, n)), args...)
		if err != nil {
			return 0, fmt.Errorf("write %s: %w", meta.TableName, err)
		}
		affected += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit %s: %w", meta.TableName, err)
	}
	return affected, nil
}

func (s *Store) UpsertInstruments(ctx context.Context, insts []model.Instrument) error {
	_, err := writeBatches(ctx, s.pool, model.TableInstruments, insts, sqlgen.Upsert)
	return err
}

func (s *Store) InsertPrices(ctx context.Context, bars []model.PriceBar) (int64, error) {
	return writeBatches(ctx, s.pool, model.TableDailyPrices, bars, sqlgen.InsertIgnore)
}

func (s *Store) InsertDividends(ctx context.Context, events []model.DividendEvent) (int64, error) {
	return writeBatches(ctx, s.pool, model.TableDividends, events, sqlgen.InsertIgnore)
}

func (s *Store) UpsertTRI(ctx context.Context, points []model.TRIPoint) error {
	_, err := writeBatches(ctx, s.pool, model.TableTRI, points, sqlgen.Upsert)
	return err
}

func (s *Store) UpsertBacktests(ctx context.Context, results []model.BacktestResult) error {
	_, err := writeBatches(ctx, s.pool, model.TableBacktests, results, sqlgen.Upsert)
	return err
}

func (s *Store) UpdateInstrumentStatus(ctx context.Context, etfID string, status model.InstrumentStatus) error {
	_, err := s.pool.Exec(ctx, "UPDATE etfs SET status = $1, updated_at = $2 WHERE etf_id = $3",
		string(status), time.Now().UTC(), etfID)
	return err
}

func (s *Store) EnsureSyncState(ctx context.Context, etfIDs ...string) error {
	now := time.Now().UTC()
	rows := make([]model.SyncState, len(etfIDs))
	for i, id := range etfIDs {
		rows[i] = model.SyncState{ETFID: id, UpdatedAt: now}
	}
	_, err := writeBatches(ctx, s.pool, model.TableSyncStatus, rows, sqlgen.InsertIgnore)
	return err
}

func (s *Store) AdvanceSyncState(ctx context.Context, etfID string, kind model.SeriesKind, last time.Time, count int64) (bool, error) {
	query, err := sqlgen.AdvanceCursor(kind)
	if err != nil {
		return false, err
	}
	if err := s.EnsureSyncState(ctx, etfID); err != nil {
		return false, err
	}

	tag, err := s.pool.Exec(ctx, rebind(query), sqlgen.AdvanceCursorArgs(etfID, model.TruncateDay(last), count, time.Now().UTC())...)
	if err != nil {
		return false, fmt.Errorf("failed to advance %s cursor for %s: %w", kind, etfID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) SeriesSummary(ctx context.Context, etfID string, kind model.SeriesKind) (model.SeriesSummary, error) {
	meta := model.SeriesTable(kind)
	if meta == nil {
		return model.SeriesSummary{}, fmt.Errorf("unknown series kind: %s", kind)
	}
	latestQ, countQ := sqlgen.Summary(meta)

	var summary model.SeriesSummary
	if err := s.pool.QueryRow(ctx, rebind(countQ), etfID).Scan(&summary.Count); err != nil {
		return summary, fmt.Errorf("failed to count %s for %s: %w", meta.TableName, etfID, err)
	}
	if summary.Count == 0 {
		return summary, nil
	}

	var latest time.Time
	if err := s.pool.QueryRow(ctx, rebind(latestQ), etfID).Scan(&latest); err != nil {
		return summary, fmt.Errorf("failed to read latest %s for %s: %w", meta.TableName, etfID, err)
	}
	latest = model.TruncateDay(latest)
	summary.Last = &latest
	return summary, nil
}

func selectFrom(meta *model.TableMeta) string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(meta.ColumnNames(), ", "), meta.TableName)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
