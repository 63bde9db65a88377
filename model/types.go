package model

import (
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

type Region string

const (
	RegionTW Region = "TW"
	RegionUS Region = "US"
)

// ParseRegion 接受大小写不敏感的地区代码
func ParseRegion(s string) (Region, error) {
	switch Region(strings.ToUpper(strings.TrimSpace(s))) {
	case RegionTW:
		return RegionTW, nil
	case RegionUS:
		return RegionUS, nil
	default:
		return "", fmt.Errorf("unsupported region: %q (expected TW or US)", s)
	}
}

// Currency 地区默认计价币种
func (r Region) Currency() string {
	switch r {
	case RegionTW:
		return "TWD"
	case RegionUS:
		return "USD"
	default:
		return ""
	}
}

// DefaultSeriesKind 首次入库时按地区决定的价格序列类型
func (r Region) DefaultSeriesKind() PriceSeriesKind {
	if r == RegionUS {
		return SeriesAdjustedClose
	}
	return SeriesRawWithDividends
}

// Lower 用于队列名等小写场景
func (r Region) Lower() string {
	return strings.ToLower(string(r))
}

type InstrumentStatus string

const (
	StatusActive   InstrumentStatus = "ACTIVE"
	StatusDelisted InstrumentStatus = "DELISTED"
)

// PriceSeriesKind decides how the TRI engine reads a price series. It is
// assigned once when the instrument is first ingested and stored with it.
type PriceSeriesKind string

const (
	SeriesAdjustedClose    PriceSeriesKind = "ADJ_CLOSE"
	SeriesRawWithDividends PriceSeriesKind = "RAW_WITH_DIVIDENDS"
)

func (k PriceSeriesKind) Valid() bool {
	return k == SeriesAdjustedClose || k == SeriesRawWithDividends
}

// SeriesKind 同步游标所跟踪的序列
type SeriesKind string

const (
	SeriesPrices    SeriesKind = "price"
	SeriesDividends SeriesKind = "dividend"
	SeriesTRI       SeriesKind = "tri"
)

// RawPrice 数据源返回的原始日线，未去重未排序
type RawPrice struct {
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	AdjClose float64
	Volume   int64
}

// RawDividend 数据源返回的原始除息记录，同一除息日可能拆成多条
type RawDividend struct {
	ExDate   time.Time
	Amount   float64
	Currency string
}

// RawSeries 单个标的一次抓取的结果
type RawSeries struct {
	ETFID     string
	Currency  string
	Prices    []RawPrice
	Dividends []RawDividend
}

func (s *RawSeries) Empty() bool {
	return s == nil || (len(s.Prices) == 0 && len(s.Dividends) == 0)
}

// NormalizeID trims and upper-cases an instrument identifier.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// TruncateDay 统一为 UTC 零点，所有日期比较都基于它
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}
