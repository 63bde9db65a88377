package cmd

import (
	"context"
	"fmt"

	"github.com/jing2uo/etf2db/config"
	"github.com/jing2uo/etf2db/discovery"
	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/utils"
)

// Init 建表并把名单文件中的标的写入库，不抓取行情
func Init(ctx context.Context, cfg *config.Config, regions []model.Region) error {
	if err := utils.CheckFile(cfg.Universe.Path); err != nil {
		return fmt.Errorf("universe file: %w", err)
	}

	app, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	fmt.Printf("📦 开始读取名单: %s\n", cfg.Universe.Path)
	source := discovery.NewYAMLSource(cfg.Universe.Path)
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return err
		}
		crawled, err := source.Discover(ctx, region)
		if err != nil {
			return fmt.Errorf("failed to discover %s instruments: %w", region, err)
		}
		report, err := app.Aligner(region).Align(ctx, region, crawled)
		if err != nil {
			return fmt.Errorf("failed to align %s instruments: %w", region, err)
		}
		fmt.Printf("🌲 %s: 新增 %d, 已有 %d, 名单外 %d, 退市 %d\n",
			region, len(report.New), len(report.Intersect), len(report.Missing), len(report.Delisted))
	}

	fmt.Println("🚀 初始化完成")
	return nil
}
