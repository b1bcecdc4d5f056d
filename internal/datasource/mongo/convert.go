package mongo

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/wesleyorama2/volley/internal/record"
)

// FromBSON converts a BSON document into a record, keeping field order.
// Extended types render as text: ObjectIDs as hex, dates as RFC 3339,
// binary as base64.
func FromBSON(doc bson.Raw) (record.Value, error) {
	elems, err := doc.Elements()
	if err != nil {
		return record.Value{}, fmt.Errorf("decode document: %w", err)
	}
	fields := make([]record.Field, 0, len(elems))
	for _, e := range elems {
		v, err := fromRawValue(e.Value())
		if err != nil {
			return record.Value{}, fmt.Errorf("field %q: %w", e.Key(), err)
		}
		fields = append(fields, record.Field{Key: e.Key(), Value: v})
	}
	return record.Object(fields...), nil
}

func fromRawValue(rv bson.RawValue) (record.Value, error) {
	switch rv.Type {
	case bsontype.Double:
		return record.Number(rv.Double()), nil
	case bsontype.String:
		return record.String(rv.StringValue()), nil
	case bsontype.Symbol:
		return record.String(rv.Symbol()), nil
	case bsontype.EmbeddedDocument:
		return FromBSON(rv.Document())
	case bsontype.Array:
		vals, err := rv.Array().Values()
		if err != nil {
			return record.Value{}, err
		}
		elems := make([]record.Value, 0, len(vals))
		for _, ev := range vals {
			v, err := fromRawValue(ev)
			if err != nil {
				return record.Value{}, err
			}
			elems = append(elems, v)
		}
		return record.Array(elems...), nil
	case bsontype.Boolean:
		return record.Bool(rv.Boolean()), nil
	case bsontype.Int32:
		return record.Int(int64(rv.Int32())), nil
	case bsontype.Int64:
		return record.Int(rv.Int64()), nil
	case bsontype.Decimal128:
		return record.NumberLiteral(rv.Decimal128().String()), nil
	case bsontype.ObjectID:
		return record.String(rv.ObjectID().Hex()), nil
	case bsontype.DateTime:
		return record.String(time.UnixMilli(rv.DateTime()).UTC().Format(time.RFC3339Nano)), nil
	case bsontype.Timestamp:
		t, _ := rv.Timestamp()
		return record.Int(int64(t)), nil
	case bsontype.Binary:
		_, data := rv.Binary()
		return record.String(base64.StdEncoding.EncodeToString(data)), nil
	case bsontype.Regex:
		pattern, opts := rv.Regex()
		return record.String("/" + pattern + "/" + opts), nil
	case bsontype.Null, bsontype.Undefined:
		return record.Null(), nil
	default:
		return record.String(rv.String()), nil
	}
}

// FilterToBSON converts a filter record into an ordered BSON document. A
// null filter matches everything.
func FilterToBSON(filter record.Value) (bson.D, error) {
	switch filter.Kind() {
	case record.KindNull:
		return bson.D{}, nil
	case record.KindObject:
		v := toBSON(filter)
		return v.(bson.D), nil
	default:
		return nil, fmt.Errorf("mongo filter must be an object, got %s", filter.Kind())
	}
}

func toBSON(v record.Value) interface{} {
	switch v.Kind() {
	case record.KindObject:
		d := bson.D{}
		for _, f := range v.Fields() {
			d = append(d, bson.E{Key: f.Key, Value: toBSON(f.Value)})
		}
		return d
	case record.KindArray:
		a := bson.A{}
		for _, e := range v.Elems() {
			a = append(a, toBSON(e))
		}
		return a
	case record.KindString:
		s, _ := v.AsString()
		return s
	case record.KindNumber:
		if i, err := strconv.ParseInt(v.Text(), 10, 64); err == nil {
			return i
		}
		f, _ := v.AsFloat()
		return f
	case record.KindBool:
		b, _ := v.AsBool()
		return b
	default:
		return nil
	}
}
