package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

const dateTimeLayout = "2006-01-02 15:04:05"

// CSVWriter 按 col 标签把结构体写成 CSV，可以写文件也可以写任意 io.Writer
type CSVWriter[T any] struct {
	closer        io.Closer
	writer        *csv.Writer
	headerWritten bool
	columns       []columnInfo
}

type columnInfo struct {
	Index      int
	HeaderName string
	IsDateType bool
}

var timeType = reflect.TypeOf(time.Time{})

func NewCSVWriter[T any](filename string) (*CSVWriter[T], error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	cw, err := NewCSVStreamWriter[T](f, true)
	if err != nil {
		f.Close()
		return nil, err
	}
	cw.closer = f
	return cw, nil
}

// NewCSVStreamWriter 写到 w；header 为 false 时不输出表头（用于 ClickHouse 导入）
func NewCSVStreamWriter[T any](w io.Writer, header bool) (*CSVWriter[T], error) {
	cols, err := analyzeStructTags[T]()
	if err != nil {
		return nil, err
	}
	return &CSVWriter[T]{
		writer:        csv.NewWriter(w),
		headerWritten: !header,
		columns:       cols,
	}, nil
}

func analyzeStructTags[T any]() ([]columnInfo, error) {
	var t T
	typ := reflect.TypeOf(t)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("generic type T must be a struct")
	}

	var cols []columnInfo
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		name := field.Tag.Get("col")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		cols = append(cols, columnInfo{
			Index:      i,
			HeaderName: name,
			IsDateType: field.Tag.Get("type") == "date",
		})
	}
	return cols, nil
}

func (cw *CSVWriter[T]) Write(data []T) error {
	if len(data) == 0 {
		return nil
	}

	if !cw.headerWritten {
		headers := make([]string, len(cw.columns))
		for i, col := range cw.columns {
			headers[i] = col.HeaderName
		}
		if err := cw.writer.Write(headers); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		cw.headerWritten = true
	}

	record := make([]string, len(cw.columns))
	for _, item := range data {
		val := reflect.ValueOf(item)
		if val.Kind() == reflect.Ptr {
			val = val.Elem()
		}
		for i, col := range cw.columns {
			record[i] = formatField(val.Field(col.Index), col.IsDateType)
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	return nil
}

// formatField nil 指针和零值时间写成空串
func formatField(v reflect.Value, dateOnly bool) string {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return ""
		}
		if dateOnly {
			return t.Format("2006-01-02")
		}
		return t.UTC().Format(dateTimeLayout)
	}

	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case reflect.Bool:
		if v.Bool() {
			return "1"
		}
		return "0"
	case reflect.String:
		return v.String()
	}
	return fmt.Sprint(v.Interface())
}

// Flush 把缓冲写出，流式写入时由调用方负责底层 writer
func (cw *CSVWriter[T]) Flush() error {
	cw.writer.Flush()
	return cw.writer.Error()
}

func (cw *CSVWriter[T]) Close() error {
	if err := cw.Flush(); err != nil {
		if cw.closer != nil {
			cw.closer.Close()
		}
		return fmt.Errorf("failed to flush: %w", err)
	}
	if cw.closer != nil {
		return cw.closer.Close()
	}
	return nil
}
