package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jing2uo/etf2db/config"
	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/workflow"
)

// Backtest 对指定标的（为空时地区内全部标的）重新计算回测窗口并打印结果
func Backtest(ctx context.Context, cfg *config.Config, regions []model.Region, etfIDs []string, asOfStr string) error {
	asOf, err := ParseAsOf(asOfStr)
	if err != nil {
		return err
	}
	app, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	insts, err := backtestTargets(ctx, app, regions, etfIDs)
	if err != nil {
		return err
	}
	if len(insts) == 0 {
		fmt.Println("🌲 没有需要回测的标的")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ETF\tWINDOW\tSTART\tEND\tTOTAL\tCAGR\tVOL\tSHARPE\tMDD")
	for _, inst := range insts {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := app.Runner.Backtest(ctx, inst, asOf)
		if err != nil {
			if workflow.IsPermanent(err) {
				fmt.Printf("⚠️ %s: %v\n", inst.ETFID, err)
				continue
			}
			return fmt.Errorf("backtest %s: %w", inst.ETFID, err)
		}
		if out.Skipped {
			fmt.Printf("🌲 %s: %s\n", inst.ETFID, out.Reason)
			continue
		}

		results, err := app.DB.QueryBacktests(ctx, inst.ETFID)
		if err != nil {
			return err
		}
		// 库中还保留着以前结束日的窗口，只展示最新一次
		var latest time.Time
		for _, r := range results {
			if r.EndDate.After(latest) {
				latest = r.EndDate
			}
		}
		for _, r := range results {
			if !r.EndDate.Equal(latest) {
				continue
			}
			sharpe := "-"
			if r.SharpeRatio != nil {
				sharpe = fmt.Sprintf("%.2f", *r.SharpeRatio)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f%%\t%.2f%%\t%.2f%%\t%s\t%.2f%%\n",
				r.ETFID, r.WindowLabel,
				r.StartDate.Format(model.DateLayout), r.EndDate.Format(model.DateLayout),
				r.TotalReturn*100, r.CAGR*100, r.Volatility*100, sharpe, r.MaxDrawdown*100)
		}
	}
	return tw.Flush()
}

func backtestTargets(ctx context.Context, app *App, regions []model.Region, etfIDs []string) ([]model.Instrument, error) {
	if len(etfIDs) == 0 {
		var insts []model.Instrument
		for _, region := range regions {
			active, err := workflow.ActiveInstruments(ctx, app.DB, region)
			if err != nil {
				return nil, err
			}
			insts = append(insts, active...)
		}
		return insts, nil
	}

	insts := make([]model.Instrument, 0, len(etfIDs))
	for _, id := range etfIDs {
		id = model.NormalizeID(id)
		if id == "" {
			continue
		}
		inst, err := app.DB.GetInstrument(ctx, id)
		if err != nil {
			return nil, err
		}
		if inst == nil {
			return nil, fmt.Errorf("instrument %s not found, run init first", strings.TrimSpace(id))
		}
		insts = append(insts, *inst)
	}
	return insts, nil
}
