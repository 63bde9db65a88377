package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jing2uo/etf2db/calc"
	"github.com/jing2uo/etf2db/config"
	"github.com/jing2uo/etf2db/database"
	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	FormatParquet = "parquet"
	FormatCSV     = "csv"
)

type ExportOptions struct {
	ETFIDs    []string
	Regions   []model.Region
	Format    string
	OutputDir string
	// FromDate 只输出该日期之后（不含）的行，指标仍按全量历史预热
	FromDate string
}

// Export 每个标的一个文件：收盘价、TRI 与技术指标
func Export(ctx context.Context, cfg *config.Config, opts ExportOptions) error {
	start := time.Now()

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = FormatParquet
	}
	if format != FormatParquet && format != FormatCSV {
		return fmt.Errorf("unsupported export format %q (expected parquet or csv)", opts.Format)
	}
	var from *time.Time
	if opts.FromDate != "" {
		d, err := model.ParseDate(opts.FromDate)
		if err != nil {
			return fmt.Errorf("invalid --fromdate %q, expected YYYY-MM-DD: %w", opts.FromDate, err)
		}
		from = &d
	}
	if err := utils.CheckOutputDir(opts.OutputDir); err != nil {
		return err
	}

	app, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	insts, err := backtestTargets(ctx, app, opts.Regions, opts.ETFIDs)
	if err != nil {
		return err
	}
	fmt.Printf("✅ 找到 %d 只 ETF，开始导出\n", len(insts))

	var rows atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Pipeline.Concurrency, 1))
	for _, inst := range insts {
		g.Go(func() error {
			n, err := exportOne(gctx, app.DB, inst.ETFID, format, opts.OutputDir, from)
			if err != nil {
				return fmt.Errorf("export %s: %w", inst.ETFID, err)
			}
			rows.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("🎉 导出成功，%d 行数据位于 %s，耗时 %s\n", rows.Load(), opts.OutputDir, time.Since(start).Round(time.Millisecond))
	return nil
}

func exportOne(ctx context.Context, db database.DataRepository, etfID, format, dir string, from *time.Time) (int, error) {
	bars, err := db.QueryPrices(ctx, etfID, nil, nil)
	if err != nil {
		return 0, err
	}
	tri, err := db.QueryTRI(ctx, etfID, nil, nil)
	if err != nil {
		return 0, err
	}

	rows := calc.ComputeIndicators(bars, tri)
	if from != nil {
		i := 0
		for i < len(rows) && !rows[i].Date.After(*from) {
			i++
		}
		rows = rows[i:]
	}
	if len(rows) == 0 {
		logrus.WithField("etf_id", etfID).Debug("没有可导出的数据")
		return 0, nil
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.%s", etfID, format))
	switch format {
	case FormatCSV:
		w, err := utils.NewCSVWriter[calc.IndicatorRow](path)
		if err != nil {
			return 0, err
		}
		if err := w.Write(rows); err != nil {
			w.Close()
			return 0, err
		}
		return len(rows), w.Close()
	default:
		w, err := utils.NewParquetWriter[calc.IndicatorRow](path)
		if err != nil {
			return 0, err
		}
		if err := w.Write(rows); err != nil {
			w.Close()
			return 0, err
		}
		return len(rows), w.Close()
	}
}
