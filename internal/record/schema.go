package record

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// ColumnType is the logical type of an output column.
type ColumnType int

const (
	String ColumnType = iota + 1
	NullableString
	Int64
	NullableInt64
	Bool
	NullableBool
	NullableTimestampMillis
	StringList
)

func (t ColumnType) String() string {
	switch t {
	case String:
		return "string"
	case NullableString:
		return "string?"
	case Int64:
		return "int64"
	case NullableInt64:
		return "int64?"
	case Bool:
		return "bool"
	case NullableBool:
		return "bool?"
	case NullableTimestampMillis:
		return "timestamp[ms]?"
	case StringList:
		return "list<string>"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Nullable reports whether values of the column may be nil.
func (t ColumnType) Nullable() bool {
	switch t {
	case NullableString, NullableInt64, NullableBool, NullableTimestampMillis:
		return true
	}
	return false
}

// Column is one output column.
type Column struct {
	Name string
	Type ColumnType
}

var (
	timeType = reflect.TypeOf(time.Time{})

	schemaOnce sync.Once
	schema     []Column
)

// Schema returns the output columns of Measured in order. It does not depend
// on any data and is identical across calls.
func Schema() []Column {
	schemaOnce.Do(func() {
		t := reflect.TypeOf(Measured{})
		schema = make([]Column, t.NumField())
		for i := range schema {
			f := t.Field(i)
			name, _, _ := strings.Cut(f.Tag.Get("parquet"), ",")
			schema[i] = Column{Name: name, Type: columnType(f.Type)}
		}
	})
	return append([]Column(nil), schema...)
}

// Columns returns the output column names in order.
func Columns() []string {
	cols := Schema()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func columnType(t reflect.Type) ColumnType {
	switch {
	case t == timeType:
		return NullableTimestampMillis
	case t.Kind() == reflect.String:
		return String
	case t.Kind() == reflect.Int64:
		return Int64
	case t.Kind() == reflect.Bool:
		return Bool
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.String:
		return StringList
	case t.Kind() == reflect.Pointer:
		switch t.Elem().Kind() {
		case reflect.String:
			return NullableString
		case reflect.Int64:
			return NullableInt64
		case reflect.Bool:
			return NullableBool
		}
	}
	panic(fmt.Sprintf("record: unsupported column type %s", t))
}

// Values returns the row's values in schema order. Nullable columns hold nil
// or the dereferenced value; timestamps are time.Time and lists []string.
func (m *Measured) Values() []any {
	v := reflect.ValueOf(m).Elem()
	out := make([]any, v.NumField())
	for i := range out {
		f := v.Field(i)
		switch {
		case f.Kind() == reflect.Pointer:
			if !f.IsNil() {
				out[i] = f.Elem().Interface()
			}
		case f.Type() == timeType:
			if ts := f.Interface().(time.Time); !ts.IsZero() {
				out[i] = ts
			}
		default:
			out[i] = f.Interface()
		}
	}
	return out
}
