package sqlsource

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/volley/internal/record"
)

// scanner turns rows into ordered objects keyed by column name.
type scanner struct {
	columns []string
	types   []string
}

func newScanner(rows *sql.Rows) (*scanner, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	s := &scanner{columns: cols, types: make([]string, len(cols))}
	if cts, err := rows.ColumnTypes(); err == nil {
		for i, ct := range cts {
			s.types[i] = strings.ToUpper(ct.DatabaseTypeName())
		}
	}
	return s, nil
}

func (s *scanner) scan(rows *sql.Rows) (record.Value, error) {
	vals := make([]any, len(s.columns))
	ptrs := make([]any, len(s.columns))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return record.Value{}, err
	}
	fields := make([]record.Field, len(s.columns))
	for i, col := range s.columns {
		fields[i] = record.Field{Key: col, Value: convert(vals[i], s.types[i])}
	}
	return record.Object(fields...), nil
}

// convert maps a driver value to a record. Drivers that return numbers or
// JSON documents as bytes are decoded using the column type.
func convert(v any, dbType string) record.Value {
	switch x := v.(type) {
	case nil:
		return record.Null()
	case int64:
		if dbType == "BOOL" || dbType == "BOOLEAN" {
			return record.Bool(x != 0)
		}
		return record.Int(x)
	case float64:
		return record.Number(x)
	case bool:
		return record.Bool(x)
	case time.Time:
		return record.String(x.UTC().Format(time.RFC3339Nano))
	case []byte:
		return convertText(string(x), dbType)
	case string:
		return convertText(x, dbType)
	default:
		return record.String(fmt.Sprint(x))
	}
}

func convertText(s, dbType string) record.Value {
	switch {
	case dbType == "JSON" || dbType == "JSONB":
		if v, err := record.ParseJSON([]byte(s)); err == nil {
			return v
		}
	case isNumericType(dbType):
		if isJSONNumber(s) {
			return record.NumberLiteral(s)
		}
	case dbType == "BOOL" || dbType == "BOOLEAN":
		if b, err := strconv.ParseBool(s); err == nil {
			return record.Bool(b)
		}
	}
	return record.String(s)
}

// isJSONNumber rejects literals strconv accepts but JSON does not, such as
// NaN, Inf and hex floats.
func isJSONNumber(s string) bool {
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return false
	}
	return json.Valid([]byte(s))
}

func isNumericType(t string) bool {
	switch t {
	case "INT", "INTEGER", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT",
		"INT2", "INT4", "INT8", "DECIMAL", "NUMERIC", "FLOAT", "FLOAT4", "FLOAT8",
		"DOUBLE", "REAL", "UNSIGNED INT", "UNSIGNED BIGINT", "UNSIGNED TINYINT",
		"UNSIGNED SMALLINT", "UNSIGNED MEDIUMINT":
		return true
	}
	return false
}
