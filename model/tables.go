package model

import "time"

// --- 结构体定义 (Schema) ---

type Instrument struct {
	ETFID         string           `col:"etf_id"         parquet:"etf_id,dict"`
	Name          string           `col:"etf_name"       parquet:"etf_name"`
	Region        Region           `col:"region"         parquet:"region,dict"`
	Currency      string           `col:"currency"       parquet:"currency,dict"`
	ExpenseRatio  *float64         `col:"expense_ratio"  parquet:"expense_ratio,optional"`
	InceptionDate *time.Time       `col:"inception_date" parquet:"inception_date,optional" type:"date"`
	Status        InstrumentStatus `col:"status"         parquet:"status,dict"`
	SeriesKind    PriceSeriesKind  `col:"series_kind"    parquet:"series_kind,dict"`
	UpdatedAt     time.Time        `col:"updated_at"     parquet:"updated_at"              type:"datetime"`
}

func (i Instrument) Active() bool {
	return i.Status != StatusDelisted
}

type PriceBar struct {
	ETFID     string    `col:"etf_id"     parquet:"etf_id,dict"`
	TradeDate time.Time `col:"trade_date" parquet:"trade_date" type:"date"`
	Open      float64   `col:"open"       parquet:"open"`
	High      float64   `col:"high"       parquet:"high"`
	Low       float64   `col:"low"        parquet:"low"`
	Close     float64   `col:"close"      parquet:"close"`
	AdjClose  float64   `col:"adj_close"  parquet:"adj_close"`
	Volume    int64     `col:"volume"     parquet:"volume"`
	Currency  string    `col:"currency"   parquet:"currency,dict"`
}

type DividendEvent struct {
	ETFID           string    `col:"etf_id"            parquet:"etf_id,dict"`
	ExDate          time.Time `col:"ex_date"           parquet:"ex_date" type:"date"`
	DividendPerUnit float64   `col:"dividend_per_unit" parquet:"dividend_per_unit"`
	Currency        string    `col:"currency"          parquet:"currency,dict"`
}

type TRIPoint struct {
	ETFID    string    `col:"etf_id"   parquet:"etf_id,dict"`
	TRIDate  time.Time `col:"tri_date" parquet:"tri_date" type:"date"`
	TRI      float64   `col:"tri"      parquet:"tri"`
	Currency string    `col:"currency" parquet:"currency,dict"`
}

// BacktestResult 以 (etf_id, start_date) 为键整行覆盖
// SharpeRatio 为 nil 表示波动率为 0，数据不足以给出夏普比率
type BacktestResult struct {
	ETFID       string    `col:"etf_id"       parquet:"etf_id,dict"`
	StartDate   time.Time `col:"start_date"   parquet:"start_date" type:"date"`
	WindowLabel string    `col:"window_label" parquet:"window_label,dict"`
	EndDate     time.Time `col:"end_date"     parquet:"end_date"   type:"date"`
	TotalReturn float64   `col:"total_return" parquet:"total_return"`
	CAGR        float64   `col:"cagr"         parquet:"cagr"`
	Volatility  float64   `col:"volatility"   parquet:"volatility"`
	SharpeRatio *float64  `col:"sharpe_ratio" parquet:"sharpe_ratio,optional"`
	MaxDrawdown float64   `col:"max_drawdown" parquet:"max_drawdown"`
	ComputedAt  time.Time `col:"computed_at"  parquet:"computed_at" type:"datetime"`
}

// SyncState 每个标的一行，增量抓取与计算的游标，日期只进不退
type SyncState struct {
	ETFID            string     `col:"etf_id"`
	LastPriceDate    *time.Time `col:"last_price_date"    type:"date"`
	PriceCount       int64      `col:"price_count"`
	LastDividendDate *time.Time `col:"last_dividend_date" type:"date"`
	DividendCount    int64      `col:"dividend_count"`
	LastTRIDate      *time.Time `col:"last_tri_date"      type:"date"`
	TRICount         int64      `col:"tri_count"`
	UpdatedAt        time.Time  `col:"updated_at"         type:"datetime"`
}

// Cursor 返回指定序列的游标日期与计数
func (s *SyncState) Cursor(kind SeriesKind) (*time.Time, int64) {
	if s == nil {
		return nil, 0
	}
	switch kind {
	case SeriesPrices:
		return s.LastPriceDate, s.PriceCount
	case SeriesDividends:
		return s.LastDividendDate, s.DividendCount
	case SeriesTRI:
		return s.LastTRIDate, s.TRICount
	}
	return nil, 0
}

// SeriesSummary 已落库序列的最大日期和行数
type SeriesSummary struct {
	Last  *time.Time
	Count int64
}

// SyncColumns 同步表中对应序列的 (日期列, 计数列)
func SyncColumns(kind SeriesKind) (dateCol, countCol string) {
	switch kind {
	case SeriesPrices:
		return "last_price_date", "price_count"
	case SeriesDividends:
		return "last_dividend_date", "dividend_count"
	case SeriesTRI:
		return "last_tri_date", "tri_count"
	}
	return "", ""
}

// SeriesTable 序列对应的数据表
func SeriesTable(kind SeriesKind) *TableMeta {
	switch kind {
	case SeriesPrices:
		return TableDailyPrices
	case SeriesDividends:
		return TableDividends
	case SeriesTRI:
		return TableTRI
	}
	return nil
}

// --- 表结构元数据 (TableMeta) ---

var TableInstruments = SchemaFromStruct(
	"etfs",
	Instrument{},
	[]string{"etf_id"},
)

var TableDailyPrices = SchemaFromStruct(
	"etf_daily_prices",
	PriceBar{},
	[]string{"etf_id", "trade_date"},
)

var TableDividends = SchemaFromStruct(
	"etf_dividends",
	DividendEvent{},
	[]string{"etf_id", "ex_date"},
)

var TableTRI = SchemaFromStruct(
	"etf_tris",
	TRIPoint{},
	[]string{"etf_id", "tri_date"},
)

var TableBacktests = SchemaFromStruct(
	"etf_backtests",
	BacktestResult{},
	[]string{"etf_id", "start_date"},
)

var TableSyncStatus = SchemaFromStruct(
	"etl_sync_status",
	SyncState{},
	[]string{"etf_id"},
)
