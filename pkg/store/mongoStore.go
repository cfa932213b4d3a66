package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
)

// MongoStore persists outbox events as documents in a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	database   string
	collection string
}

func NewMongoStore(client *mongo.Client, database, collection string) *MongoStore {
	return &MongoStore{
		client:     client,
		database:   database,
		collection: collection,
	}
}

func (m *MongoStore) coll() *mongo.Collection {
	return m.client.Database(m.database).Collection(m.collection)
}

// deadFilter matches unpublished documents whose retry budget is exhausted.
var deadFilter = bson.M{
	"published": false,
	"$expr":     bson.M{"$gte": bson.A{"$retry_count", "$max_retries"}},
}

func (m *MongoStore) Insert(ctx context.Context, events ...*OutboxEvent) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Insert")
	defer span.End()

	startTime := time.Now()

	docs := make([]interface{}, 0, len(events))
	for _, event := range events {
		docs = append(docs, event)
	}

	// Run batch inserts inside a session transaction so a failed batch leaves
	// no partial rows behind.
	session, err := m.client.StartSession()
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return m.coll().InsertMany(sc, docs)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, "Insert", len(events), time.Since(startTime))

	return nil
}

func (m *MongoStore) FetchDue(ctx context.Context, now time.Time, batchSize int) ([]OutboxEvent, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "FetchDue")
	defer span.End()

	startTime := time.Now()

	filter := bson.M{
		"published":     false,
		"scheduled_for": bson.M{"$lte": now},
		"$expr":         bson.M{"$lt": bson.A{"$retry_count", "$max_retries"}},
	}
	opts := options.Find().
		SetLimit(int64(batchSize)).
		SetSort(bson.D{{Key: "scheduled_for", Value: 1}})
	cursor, err := m.coll().Find(ctx, filter, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []OutboxEvent
	for cursor.Next(ctx) {
		var event OutboxEvent
		if err := cursor.Decode(&event); err != nil {
			span.RecordError(err)
			return nil, err
		}
		events = append(events, event)
	}

	if err := cursor.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "FetchDue", len(events), time.Since(startTime))

	return events, nil
}

func (m *MongoStore) MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	filter := bson.M{"event_id": eventID, "published": false}
	update := bson.M{
		"$set": bson.M{
			"published":    true,
			"published_at": publishedAt,
		},
	}
	res, err := m.coll().UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (m *MongoStore) RecordFailure(ctx context.Context, eventID string, nextAttempt time.Time, lastError string) error {
	filter := bson.M{"event_id": eventID, "published": false}
	update := bson.M{
		"$set": bson.M{
			"scheduled_for": nextAttempt,
			"last_error":    lastError,
		},
		"$inc": bson.M{"retry_count": 1},
	}
	res, err := m.coll().UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (m *MongoStore) DeleteUnpublished(ctx context.Context, eventID string) (bool, error) {
	res, err := m.coll().DeleteOne(ctx, bson.M{"event_id": eventID, "published": false})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (m *MongoStore) CountPending(ctx context.Context, now time.Time) (int, error) {
	filter := bson.M{
		"published":     false,
		"scheduled_for": bson.M{"$lte": now},
		"$expr":         bson.M{"$lt": bson.A{"$retry_count", "$max_retries"}},
	}
	count, err := m.coll().CountDocuments(ctx, filter)
	return int(count), err
}

func (m *MongoStore) Stats(ctx context.Context, since time.Time) (WindowStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"created_at": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{
			"_id":     nil,
			"created": bson.M{"$sum": 1},
			"published": bson.M{"$sum": bson.M{
				"$cond": bson.A{"$published", 1, 0},
			}},
			"dead": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$and": bson.A{
					bson.M{"$not": bson.A{"$published"}},
					bson.M{"$gte": bson.A{"$retry_count", "$max_retries"}},
				}}, 1, 0},
			}},
			"avg_publish_ms": bson.M{"$avg": bson.M{
				"$cond": bson.A{"$published",
					bson.M{"$subtract": bson.A{"$published_at", "$created_at"}},
					nil},
			}},
		}}},
	}

	cursor, err := m.coll().Aggregate(ctx, pipeline)
	if err != nil {
		return WindowStats{}, err
	}
	defer cursor.Close(ctx)

	var result struct {
		Created      int     `bson:"created"`
		Published    int     `bson:"published"`
		Dead         int     `bson:"dead"`
		AvgPublishMs float64 `bson:"avg_publish_ms"`
	}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&result); err != nil {
			return WindowStats{}, err
		}
	}
	if err := cursor.Err(); err != nil {
		return WindowStats{}, err
	}

	return WindowStats{
		Created:        result.Created,
		Published:      result.Published,
		DeadLettered:   result.Dead,
		AveragePublish: time.Duration(result.AvgPublishMs * float64(time.Millisecond)),
	}, nil
}

func (m *MongoStore) ListDeadLettered(ctx context.Context, limit, offset int) ([]OutboxEvent, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(offset)).
		SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := m.coll().Find(ctx, deadFilter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []OutboxEvent
	for cursor.Next(ctx) {
		var event OutboxEvent
		if err := cursor.Decode(&event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, cursor.Err()
}

func (m *MongoStore) ResetForRetry(ctx context.Context, now time.Time, eventIDs ...string) (int, error) {
	filter := bson.M{
		"published": false,
		"$expr":     bson.M{"$gte": bson.A{"$retry_count", "$max_retries"}},
	}
	if len(eventIDs) > 0 {
		filter["event_id"] = bson.M{"$in": eventIDs}
	}
	update := bson.M{
		"$set": bson.M{
			"retry_count":   0,
			"scheduled_for": now,
		},
		"$unset": bson.M{"last_error": ""},
	}
	res, err := m.coll().UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}
