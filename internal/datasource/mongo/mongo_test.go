package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/wesleyorama2/volley/internal/datasource"
	"github.com/wesleyorama2/volley/internal/record"
)

func TestFromBSON(t *testing.T) {
	oid, err := primitive.ObjectIDFromHex("64b7f0c2a1b2c3d4e5f60718")
	require.NoError(t, err)
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	raw, err := bson.Marshal(bson.D{
		{Key: "_id", Value: oid},
		{Key: "name", Value: "Ada"},
		{Key: "age", Value: int32(36)},
		{Key: "score", Value: 9.5},
		{Key: "big", Value: int64(1) << 40},
		{Key: "active", Value: true},
		{Key: "joined", Value: primitive.NewDateTimeFromTime(when)},
		{Key: "address", Value: bson.D{{Key: "zip", Value: "N1"}, {Key: "city", Value: "London"}}},
		{Key: "tags", Value: bson.A{"a", int32(2), nil}},
		{Key: "blob", Value: primitive.Binary{Data: []byte("hi")}},
		{Key: "none", Value: nil},
	})
	require.NoError(t, err)

	v, err := FromBSON(raw)
	require.NoError(t, err)
	assert.Equal(t,
		`{"_id":"64b7f0c2a1b2c3d4e5f60718","name":"Ada","age":36,"score":9.5,"big":1099511627776,"active":true,`+
			`"joined":"2024-03-01T12:00:00Z","address":{"zip":"N1","city":"London"},"tags":["a",2,null],"blob":"aGk=","none":null}`,
		v.Text())
}

func TestFilterToBSON(t *testing.T) {
	filter, err := record.ParseJSON([]byte(`{"status":"active","age":{"$gte":18},"score":{"$lt":9.5},"tags":{"$in":["a","b"]},"deleted":null}`))
	require.NoError(t, err)

	d, err := FilterToBSON(filter)
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "status", Value: "active"},
		{Key: "age", Value: bson.D{{Key: "$gte", Value: int64(18)}}},
		{Key: "score", Value: bson.D{{Key: "$lt", Value: 9.5}}},
		{Key: "tags", Value: bson.D{{Key: "$in", Value: bson.A{"a", "b"}}}},
		{Key: "deleted", Value: nil},
	}, d)

	d, err = FilterToBSON(record.Null())
	require.NoError(t, err)
	assert.Empty(t, d)

	_, err = FilterToBSON(record.String("x"))
	assert.Error(t, err)
}

func TestMapError(t *testing.T) {
	expired := mapError("mongo db.c", mongo.CommandError{Code: codeCursorNotFound, Name: "CursorNotFound", Message: "cursor id 1 not found"})
	assert.ErrorIs(t, expired, datasource.ErrCursorExpired)
	assert.True(t, datasource.IsFatal(expired))

	other := mapError("mongo db.c", mongo.CommandError{Code: 2, Message: "bad value"})
	assert.False(t, datasource.IsFatal(other))
	assert.Contains(t, other.Error(), "mongo db.c")

	plain := mapError("mongo db.c", errors.New("boom"))
	assert.False(t, datasource.IsFatal(plain))

	// A getMore cut short by Stop can carry the network label.
	interrupted := mongo.CommandError{
		Message: "connection closed",
		Labels:  []string{"NetworkError"},
		Wrapped: context.Canceled,
	}
	require.True(t, mongo.IsNetworkError(interrupted))
	cancelled := mapError("mongo db.c", interrupted)
	assert.ErrorIs(t, cancelled, context.Canceled)
	assert.False(t, datasource.IsFatal(cancelled))

	network := mapError("mongo db.c", mongo.CommandError{Message: "reset", Labels: []string{"NetworkError"}})
	assert.True(t, datasource.IsFatal(network))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), datasource.Query{Kind: "mongo", URI: "mongodb://localhost:27017"})
	assert.ErrorContains(t, err, "needs database and collection")

	_, err = New(context.Background(), datasource.Query{
		Kind: "mongo", URI: "mongodb://localhost:27017", Database: "d", Collection: "c",
		Filter: record.Array(),
	})
	assert.ErrorContains(t, err, "filter must be an object")
}

func TestNew_InvalidURI(t *testing.T) {
	_, err := New(context.Background(), datasource.Query{Kind: "mongo", URI: "not-a-uri", Database: "d", Collection: "c"})
	var cerr *datasource.ConnectionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "mongo d.c", cerr.Source)
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, datasource.Kinds(), "mongo")
	assert.Contains(t, datasource.Kinds(), "mongodb")
}
