package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jing2uo/etf2db/config"
	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/workflow"
)

// Publish 把地区内全部标的的完整 TRI 与回测结果推送到 ClickHouse
func Publish(ctx context.Context, cfg *config.Config, regions []model.Region, optimize bool) error {
	start := time.Now()
	app, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	pub, err := app.Publisher(ctx)
	if err != nil {
		return err
	}
	if pub == nil {
		return fmt.Errorf("publish.clickhouse_uri is required")
	}
	defer pub.Close()

	total := 0
	for _, region := range regions {
		insts, err := app.DB.ListInstruments(ctx, region)
		if err != nil {
			return fmt.Errorf("failed to list %s instruments: %w", region, err)
		}
		if len(insts) == 0 {
			continue
		}
		n, err := workflow.Publish(ctx, app.DB, pub, insts, nil)
		if err != nil {
			return fmt.Errorf("publish %s: %w", region, err)
		}
		total += n
	}

	if optimize {
		fmt.Println("🧹 合并 ClickHouse 重复行")
		if err := pub.Optimize(ctx); err != nil {
			return err
		}
	}
	fmt.Printf("🚀 推送完成，共 %d 行，耗时 %s\n", total, time.Since(start).Round(time.Millisecond))
	return nil
}
