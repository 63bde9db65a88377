package clickhouse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jing2uo/etf2db/model"
	"github.com/jing2uo/etf2db/utils"
)

// importRows 边写 CSV 边 POST，不落临时文件
func importRows[T any](ctx context.Context, p *Publisher, meta *model.TableMeta, rows []T) error {
	if len(rows) == 0 {
		return nil
	}

	pr, pw := io.Pipe()
	go func() {
		w, err := utils.NewCSVStreamWriter[T](pw, true)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := w.Write(rows); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(w.Flush())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.httpImportURL, pr)
	if err != nil {
		pr.Close()
		return err
	}
	req.Header.Set("Content-Type", "text/csv")

	q := req.URL.Query()
	if p.database != "" {
		q.Set("database", p.database)
	}
	q.Set("query", fmt.Sprintf("INSERT INTO %s FORMAT CSVWithNames", meta.TableName))
	q.Set("date_time_input_format", "best_effort")
	q.Set("input_format_csv_empty_as_default", "1")
	req.URL.RawQuery = q.Encode()

	if p.authUser != "" {
		req.SetBasicAuth(p.authUser, p.authPass)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		pr.Close()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("clickhouse insert into %s failed (db: %s, status %d): %s",
			meta.TableName, p.database, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (p *Publisher) PublishInstruments(ctx context.Context, insts []model.Instrument) error {
	return importRows(ctx, p, model.TableInstruments, insts)
}

func (p *Publisher) PublishTRI(ctx context.Context, points []model.TRIPoint) error {
	return importRows(ctx, p, model.TableTRI, points)
}

func (p *Publisher) PublishBacktests(ctx context.Context, results []model.BacktestResult) error {
	return importRows(ctx, p, model.TableBacktests, results)
}

// Optimize 触发合并，让 ReplacingMergeTree 立即去重
func (p *Publisher) Optimize(ctx context.Context) error {
	for _, t := range PublishedTables {
		if _, err := p.db.ExecContext(ctx, fmt.Sprintf("OPTIMIZE TABLE %s FINAL", t.TableName)); err != nil {
			return fmt.Errorf("optimize %s: %w", t.TableName, err)
		}
	}
	return nil
}
