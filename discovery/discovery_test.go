package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jing2uo/etf2db/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	insts  map[string]model.Instrument
	seeded map[string]bool
}

func newMemStore(rows ...model.Instrument) *memStore {
	s := &memStore{insts: map[string]model.Instrument{}, seeded: map[string]bool{}}
	for _, r := range rows {
		s.insts[r.ETFID] = r
	}
	return s
}

func (s *memStore) ListInstruments(_ context.Context, region model.Region) ([]model.Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Instrument
	for _, r := range s.insts {
		if region == "" || r.Region == region {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) UpsertInstruments(_ context.Context, insts []model.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range insts {
		s.insts[r.ETFID] = r
	}
	return nil
}

func (s *memStore) EnsureSyncState(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.seeded[id] = true
	}
	return nil
}

type fakeProbe struct {
	live map[string]bool
	fail map[string]bool
}

func (p *fakeProbe) Name() string { return "fake" }

func (p *fakeProbe) Fetch(_ context.Context, inst model.Instrument, start, end time.Time) (*model.RawSeries, error) {
	if p.fail[inst.ETFID] {
		return nil, errors.New("timeout")
	}
	s := &model.RawSeries{ETFID: inst.ETFID}
	if p.live[inst.ETFID] {
		s.Prices = []model.RawPrice{{Date: end, Close: 10, AdjClose: 10}}
	}
	return s, nil
}

func ids(insts []model.Instrument) []string {
	out := make([]string, len(insts))
	for i, r := range insts {
		out[i] = r.ETFID
	}
	sort.Strings(out)
	return out
}

func TestAlign_ReportAndMerge(t *testing.T) {
	inception := time.Date(2003, 6, 30, 0, 0, 0, 0, time.UTC)
	store := newMemStore(
		model.Instrument{ETFID: "0050.TW", Name: "舊名", Region: model.RegionTW, Currency: "TWD",
			InceptionDate: &inception, Status: model.StatusActive, SeriesKind: model.SeriesAdjustedClose},
		model.Instrument{ETFID: "0056.TW", Name: "元大高股息", Region: model.RegionTW, Currency: "TWD",
			Status: model.StatusActive, SeriesKind: model.SeriesRawWithDividends},
	)

	a := NewAligner(store, nil, 2, nil)
	crawled := []model.Instrument{
		{ETFID: " 0050.tw ", Name: "元大台灣50"},
		{ETFID: "00878.TW", Name: "國泰永續高股息"},
		{ETFID: "   "},
	}

	report, err := a.Align(context.Background(), model.RegionTW, crawled)
	require.NoError(t, err)

	assert.Equal(t, []string{"00878.TW"}, report.New)
	assert.Equal(t, []string{"0050.TW"}, report.Intersect)
	assert.Equal(t, []string{"0056.TW"}, report.Missing)
	assert.Equal(t, []string{"0050.TW", "0056.TW", "00878.TW"}, ids(report.Active))

	got := store.insts["0050.TW"]
	assert.Equal(t, "元大台灣50", got.Name, "crawled row replaces the stored one")
	assert.Equal(t, model.SeriesAdjustedClose, got.SeriesKind, "series kind is fixed at first ingestion")
	require.NotNil(t, got.InceptionDate)
	assert.Equal(t, inception, *got.InceptionDate)

	fresh := store.insts["00878.TW"]
	assert.Equal(t, "TWD", fresh.Currency)
	assert.Equal(t, model.RegionTW, fresh.Region)
	assert.Equal(t, model.SeriesRawWithDividends, fresh.SeriesKind)
	assert.Equal(t, model.StatusActive, fresh.Status)

	assert.True(t, store.seeded["0050.TW"])
	assert.True(t, store.seeded["0056.TW"])
	assert.True(t, store.seeded["00878.TW"])
}

func TestAlign_ProbeMarksDelisted(t *testing.T) {
	store := newMemStore(
		model.Instrument{ETFID: "OLD", Region: model.RegionUS, Currency: "USD", Status: model.StatusDelisted,
			SeriesKind: model.SeriesAdjustedClose},
	)
	probe := &fakeProbe{
		live: map[string]bool{"SPY": true},
		fail: map[string]bool{"OLD": true},
	}
	a := NewAligner(store, probe, 4, nil)

	report, err := a.Align(context.Background(), model.RegionUS, []model.Instrument{
		{ETFID: "SPY"}, {ETFID: "DEAD"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"SPY"}, ids(report.Active))
	assert.ElementsMatch(t, []string{"DEAD", "OLD"}, report.Delisted)
	assert.Equal(t, model.StatusDelisted, store.insts["DEAD"].Status)
	assert.Equal(t, "USD", store.insts["SPY"].Currency)
	assert.Equal(t, model.SeriesAdjustedClose, store.insts["SPY"].SeriesKind)
}

func TestYAMLSource_Discover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.yaml")
	content := `etfs:
  - id: 0050.tw
    name: 元大台灣50
    region: tw
    inception_date: "2003-06-30"
    expense_ratio: 0.0043
  - id: SPY
    name: SPDR S&P 500
    region: US
  - id: ""
    region: US
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src := NewYAMLSource(path)
	tw, err := src.Discover(context.Background(), model.RegionTW)
	require.NoError(t, err)
	require.Len(t, tw, 1)
	assert.Equal(t, "0050.TW", tw[0].ETFID)
	assert.Equal(t, model.RegionTW, tw[0].Region)
	require.NotNil(t, tw[0].InceptionDate)
	assert.Equal(t, "2003-06-30", tw[0].InceptionDate.Format(model.DateLayout))
	require.NotNil(t, tw[0].ExpenseRatio)
	assert.InDelta(t, 0.0043, *tw[0].ExpenseRatio, 1e-12)

	all, err := src.Discover(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestYAMLSource_BadRegion(t *testing.T) {
	_, err := parseUniverse([]byte("etfs:\n  - id: 7203.T\n    region: JP\n"), "")
	assert.Error(t, err)

	_, err = NewYAMLSource(filepath.Join(t.TempDir(), "missing.yaml")).Discover(context.Background(), model.RegionTW)
	assert.Error(t, err)
}
