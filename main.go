package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jing2uo/etf2db/cmd"
	"github.com/jing2uo/etf2db/config"
	"github.com/jing2uo/etf2db/coord"
	"github.com/jing2uo/etf2db/utils"
	"github.com/spf13/cobra"
)

const regionInfo = "地区，tw、us 或逗号分隔，默认全部"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfgPath string
	var cfg *config.Config

	var rootCmd = &cobra.Command{
		Use:           "etf2db",
		Short:         "Crawl ETF prices and dividends, build total return series and backtests",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			loaded, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := utils.InitLogger(loaded.Log.Level, loaded.Log.Format); err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "配置文件路径，默认查找 ./etf2db.yaml 和 ./configs/etf2db.yaml")

	var region, stage, asOf, format, output, fromDate string
	var etfIDs []string
	var runNow, optimize bool
	var concurrency int

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create tables and load the ETF universe",
		RunE: func(c *cobra.Command, args []string) error {
			regions, err := cmd.ParseRegions(region)
			if err != nil {
				return err
			}
			return cmd.Init(ctx, cfg, regions)
		},
	}

	var cronCmd = &cobra.Command{
		Use:   "cron",
		Short: "Run one full cycle: align, fetch, tri, backtest, publish",
		RunE: func(c *cobra.Command, args []string) error {
			regions, err := cmd.ParseRegions(region)
			if err != nil {
				return err
			}
			return cmd.Cron(ctx, cfg, regions)
		},
	}

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the daily cycle for each region on schedule",
		RunE: func(c *cobra.Command, args []string) error {
			regions, err := cmd.ParseRegions(region)
			if err != nil {
				return err
			}
			return cmd.Serve(ctx, cfg, regions, runNow)
		},
	}

	var workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Consume fetch/tri/backtest tasks from the queue",
		RunE: func(c *cobra.Command, args []string) error {
			regions, err := cmd.ParseRegions(region)
			if err != nil {
				return err
			}
			return cmd.Worker(ctx, cfg, regions, concurrency)
		},
	}

	var enqueueCmd = &cobra.Command{
		Use:   "enqueue",
		Short: "Push one stage task per active ETF",
		RunE: func(c *cobra.Command, args []string) error {
			regions, err := cmd.ParseRegions(region)
			if err != nil {
				return err
			}
			s, err := coord.ParseStage(stage)
			if err != nil {
				return err
			}
			return cmd.Enqueue(ctx, cfg, regions, s, asOf)
		},
	}

	var backtestCmd = &cobra.Command{
		Use:   "backtest",
		Short: "Recompute backtest windows and print them",
		RunE: func(c *cobra.Command, args []string) error {
			regions, err := cmd.ParseRegions(region)
			if err != nil {
				return err
			}
			return cmd.Backtest(ctx, cfg, regions, etfIDs, asOf)
		},
	}

	var exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export closes, TRI and indicators per ETF",
		RunE: func(c *cobra.Command, args []string) error {
			regions, err := cmd.ParseRegions(region)
			if err != nil {
				return err
			}
			if output == "" {
				dir, err := utils.GetCacheDir()
				if err != nil {
					return err
				}
				output = filepath.Join(dir, "export")
			}
			return cmd.Export(ctx, cfg, cmd.ExportOptions{
				ETFIDs:    etfIDs,
				Regions:   regions,
				Format:    format,
				OutputDir: output,
				FromDate:  fromDate,
			})
		},
	}

	var publishCmd = &cobra.Command{
		Use:   "publish",
		Short: "Push TRI and backtests to ClickHouse",
		RunE: func(c *cobra.Command, args []string) error {
			regions, err := cmd.ParseRegions(region)
			if err != nil {
				return err
			}
			return cmd.Publish(ctx, cfg, regions, optimize)
		},
	}

	for _, c := range []*cobra.Command{initCmd, cronCmd, serveCmd, workerCmd, enqueueCmd, backtestCmd, exportCmd, publishCmd} {
		c.Flags().StringVar(&region, "region", "", regionInfo)
	}

	serveCmd.Flags().BoolVar(&runNow, "now", false, "启动后立即执行一轮")

	workerCmd.Flags().IntVar(&concurrency, "concurrency", 0, "每个地区的消费者数量，默认取 pipeline.concurrency")

	enqueueCmd.Flags().StringVar(&stage, "stage", "fetch", "阶段：fetch、tri 或 backtest")
	enqueueCmd.Flags().StringVar(&asOf, "asof", "", "回测结束日，格式 YYYY-MM-DD，默认今天")

	backtestCmd.Flags().StringSliceVar(&etfIDs, "etf", nil, "ETF 代码，可重复或逗号分隔，为空时回测地区内全部")
	backtestCmd.Flags().StringVar(&asOf, "asof", "", "回测结束日，格式 YYYY-MM-DD，默认今天")

	exportCmd.Flags().StringSliceVar(&etfIDs, "etf", nil, "ETF 代码，为空时导出地区内全部")
	exportCmd.Flags().StringVar(&format, "format", cmd.FormatParquet, "输出格式：parquet 或 csv")
	exportCmd.Flags().StringVar(&output, "output", "", "输出目录，默认在缓存目录下")
	exportCmd.Flags().StringVar(&fromDate, "fromdate", "", "导出起始日期 (不包含), 格式为 'YYYY-MM-DD'，为空时导出所有")

	publishCmd.Flags().BoolVar(&optimize, "optimize", false, "推送后执行 OPTIMIZE FINAL")

	rootCmd.AddCommand(initCmd, cronCmd, serveCmd, workerCmd, enqueueCmd, backtestCmd, exportCmd, publishCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "🛑 错误: %v\n", err)
		os.Exit(1)
	}
}
