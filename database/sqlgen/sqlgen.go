// Package sqlgen 由 TableMeta 生成各关系库共用的 SQL，占位符统一为 ?，
// 需要 $n 的驱动自行 Rebind
package sqlgen

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/jing2uo/etf2db/model"
)

// MaxParams 单条语句的绑定参数上限
const MaxParams = 4000

// CreateTable 生成带主键的建表语句
func CreateTable(meta *model.TableMeta, mapType func(model.Column) string) string {
	defs := make([]string, 0, len(meta.Columns)+1)
	keys := make(map[string]bool, len(meta.KeyColumns))
	for _, k := range meta.KeyColumns {
		keys[k] = true
	}
	for _, col := range meta.Columns {
		def := fmt.Sprintf("%s %s", col.Name, mapType(col))
		if keys[col.Name] {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(meta.KeyColumns) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(meta.KeyColumns, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", meta.TableName, strings.Join(defs, ", "))
}

// BatchSize 单条多值 INSERT 最多容纳的行数
func BatchSize(meta *model.TableMeta) int {
	n := MaxParams / len(meta.Columns)
	if n < 1 {
		return 1
	}
	return n
}

func insertPrefix(meta *model.TableMeta, rows int) string {
	cols := meta.ColumnNames()
	ph := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	values := make([]string, rows)
	for i := range values {
		values[i] = ph
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		meta.TableName, strings.Join(cols, ", "), strings.Join(values, ", "))
}

// InsertIgnore 主键冲突时保留已有行
func InsertIgnore(meta *model.TableMeta, rows int) string {
	return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING",
		insertPrefix(meta, rows), strings.Join(meta.KeyColumns, ", "))
}

// Upsert 主键冲突时整行覆盖
func Upsert(meta *model.TableMeta, rows int) string {
	var sets []string
	for _, c := range meta.ValueColumns() {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		insertPrefix(meta, rows), strings.Join(meta.KeyColumns, ", "), strings.Join(sets, ", "))
}

// AdvanceCursor 游标的条件更新，参数顺序：
// last, count, updated_at, etf_id, last, last, count
func AdvanceCursor(kind model.SeriesKind) (string, error) {
	dateCol, countCol := model.SyncColumns(kind)
	if dateCol == "" {
		return "", fmt.Errorf("unknown series kind: %s", kind)
	}
	return fmt.Sprintf(
		"UPDATE %s SET %s = ?, %s = ?, updated_at = ? WHERE etf_id = ? AND (%s IS NULL OR %s < ? OR (%s = ? AND %s < ?))",
		model.TableSyncStatus.TableName, dateCol, countCol,
		dateCol, dateCol, dateCol, countCol,
	), nil
}

// AdvanceCursorArgs 与 AdvanceCursor 的占位符一一对应
func AdvanceCursorArgs(etfID string, last time.Time, count int64, now time.Time) []any {
	return []any{last, count, now, etfID, last, last, count}
}

// RangeQuery etf_id 加可选日期区间，按日期升序
func RangeQuery(meta *model.TableMeta, etfID string, start, end *time.Time) (string, []any) {
	dateCol := meta.DateColumn()
	conds := []string{"etf_id = ?"}
	args := []any{etfID}
	if start != nil {
		conds = append(conds, dateCol+" >= ?")
		args = append(args, *start)
	}
	if end != nil {
		conds = append(conds, dateCol+" <= ?")
		args = append(args, *end)
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s ASC",
		strings.Join(meta.ColumnNames(), ", "), meta.TableName, strings.Join(conds, " AND "), dateCol), args
}

// Summary 最新日期与行数；不用 MAX() 以保留日期列的声明类型
func Summary(meta *model.TableMeta) (latest, count string) {
	dateCol := meta.DateColumn()
	latest = fmt.Sprintf("SELECT %s FROM %s WHERE etf_id = ? ORDER BY %s DESC LIMIT 1", dateCol, meta.TableName, dateCol)
	count = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE etf_id = ?", meta.TableName)
	return latest, count
}

var fieldCache sync.Map // reflect.Type -> map[string]int

func fieldIndex(t reflect.Type) map[string]int {
	if v, ok := fieldCache.Load(t); ok {
		return v.(map[string]int)
	}
	idx := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("col")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		idx[name] = i
	}
	fieldCache.Store(t, idx)
	return idx
}

// RowValues 按 meta 的列顺序取出结构体字段值。
// 自定义字符串类型转成 string，nil 指针转成 nil
func RowValues(meta *model.TableMeta, row any) []any {
	v := reflect.ValueOf(row)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	idx := fieldIndex(v.Type())

	out := make([]any, len(meta.Columns))
	for i, col := range meta.Columns {
		fi, ok := idx[col.Name]
		if !ok {
			continue
		}
		out[i] = plain(v.Field(fi))
	}
	return out
}

func plain(f reflect.Value) any {
	if f.Kind() == reflect.Ptr {
		if f.IsNil() {
			return nil
		}
		f = f.Elem()
	}
	switch f.Kind() {
	case reflect.String:
		return f.String()
	case reflect.Float32, reflect.Float64:
		return f.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return f.Int()
	case reflect.Bool:
		return f.Bool()
	}
	return f.Interface()
}

// Batches 把 rows 切成适合单条语句的批次，并展开为参数
func Batches[T any](meta *model.TableMeta, rows []T) [][]any {
	size := BatchSize(meta)
	var out [][]any
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		args := make([]any, 0, (end-start)*len(meta.Columns))
		for _, r := range rows[start:end] {
			args = append(args, RowValues(meta, r)...)
		}
		out = append(out, args)
	}
	return out
}
