package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type csvRow struct {
	ID      string     `col:"etf_id"`
	Date    time.Time  `col:"trade_date" type:"date"`
	Value   float64    `col:"value"`
	Sharpe  *float64   `col:"sharpe"`
	Ts      time.Time  `col:"computed_at"`
	Opt     *time.Time `col:"opt" type:"date"`
	Warm    bool       `col:"warm"`
	Skipped string     `col:"-"`
}

func TestCSVStreamWriter_NoHeader(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewCSVStreamWriter[csvRow](&buf, false)
	require.NoError(t, err)

	sharpe := 1.25
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, w.Write([]csvRow{
		{ID: "SPY", Date: d, Value: 0.1, Sharpe: &sharpe, Ts: d.Add(90 * time.Minute), Opt: &d, Warm: true, Skipped: "x"},
		{ID: "QQQ", Date: d, Value: 2},
	}))
	require.NoError(t, w.Close())

	assert.Equal(t,
		"SPY,2024-01-02,0.1,1.25,2024-01-02 01:30:00,2024-01-02,1\n"+
			"QQQ,2024-01-02,2,,,,0\n",
		buf.String())
}

func TestCSVWriter_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	w, err := NewCSVWriter[csvRow](path)
	require.NoError(t, err)
	require.NoError(t, w.Write([]csvRow{{ID: "SPY"}}))
	require.NoError(t, w.Write(nil))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "etf_id,trade_date,value,sharpe,computed_at,opt,warm\nSPY,,0,,,,0\n", string(data))
}

func TestCSVWriter_RejectsNonStruct(t *testing.T) {
	_, err := NewCSVStreamWriter[int](&bytes.Buffer{}, true)
	assert.Error(t, err)
}
