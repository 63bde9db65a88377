package model

import (
	"reflect"
	"strings"
	"sync"
	"time"
)

type DataType int

const (
	TypeString DataType = iota
	TypeFloat64
	TypeInt64
	TypeDate     // YYYY-MM-DD
	TypeDateTime // YYYY-MM-DD HH:MM:SS
)

type Column struct {
	Name     string
	Type     DataType
	Nullable bool
}

// TableMeta 表结构元数据。KeyColumns 在关系库里是主键，在 ClickHouse 里是排序键
type TableMeta struct {
	TableName  string
	Columns    []Column
	KeyColumns []string
}

// ColumnNames 按声明顺序返回列名
func (t *TableMeta) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ValueColumns 返回非主键列
func (t *TableMeta) ValueColumns() []string {
	keys := make(map[string]bool, len(t.KeyColumns))
	for _, k := range t.KeyColumns {
		keys[k] = true
	}
	var out []string
	for _, c := range t.Columns {
		if !keys[c.Name] {
			out = append(out, c.Name)
		}
	}
	return out
}

// DateColumn 返回第一个日期列，没有则为空
func (t *TableMeta) DateColumn() string {
	for _, c := range t.Columns {
		if c.Type == TypeDate {
			return c.Name
		}
	}
	return ""
}

var (
	tableRegistry   []*TableMeta
	tableRegistryMu sync.Mutex
)

func registerTable(t *TableMeta) {
	tableRegistryMu.Lock()
	defer tableRegistryMu.Unlock()
	tableRegistry = append(tableRegistry, t)
}

// AllTables 返回当前所有已注册的表结构
func AllTables() []*TableMeta {
	tableRegistryMu.Lock()
	defer tableRegistryMu.Unlock()

	result := make([]*TableMeta, len(tableRegistry))
	copy(result, tableRegistry)
	return result
}

// SchemaFromStruct 通过反射生成 TableMeta 并自动注册
// 指针字段视为可空列，col:"-" 的字段不入表
func SchemaFromStruct(tableName string, model interface{}, keyColumns []string) *TableMeta {
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	var cols []Column

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		colName := field.Tag.Get("col")
		if colName == "-" {
			continue
		}
		if colName == "" {
			colName = strings.ToLower(field.Name)
		}

		ft := field.Type
		nullable := false
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
			nullable = true
		}

		var dType DataType
		switch field.Tag.Get("type") {
		case "date":
			dType = TypeDate
		case "datetime":
			dType = TypeDateTime
		default:
			switch ft.Kind() {
			case reflect.String:
				dType = TypeString
			case reflect.Float64, reflect.Float32:
				dType = TypeFloat64
			case reflect.Int, reflect.Int64, reflect.Int32, reflect.Uint32:
				dType = TypeInt64
			case reflect.Struct:
				if ft == reflect.TypeOf(time.Time{}) {
					dType = TypeDateTime
				}
			default:
				dType = TypeString
			}
		}

		cols = append(cols, Column{Name: colName, Type: dType, Nullable: nullable})
	}

	meta := &TableMeta{
		TableName:  tableName,
		Columns:    cols,
		KeyColumns: keyColumns,
	}

	registerTable(meta)

	return meta
}
