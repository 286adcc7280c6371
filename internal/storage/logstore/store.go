// Package logstore implements an append-only structured log of agent
// events, diagnostic-only and not load-bearing for control flow, backed by
// MongoDB via go.mongodb.org/mongo-driver/v2.
package logstore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	huberrors "taskhub/internal/errors"
	"taskhub/internal/task"
)

// Store is the log-storage port.
type Store interface {
	Append(ctx context.Context, entry *task.LogEntry) error
	Recent(ctx context.Context, agentID string, limit int) ([]*task.LogEntry, error)
}

type mongoLogDoc struct {
	LogID     string            `bson:"log_id"`
	AgentID   string            `bson:"agent_id"`
	TaskID    *int64            `bson:"task_id,omitempty"`
	Level     string            `bson:"level"`
	Message   string            `bson:"message"`
	Metadata  map[string]string `bson:"metadata,omitempty"`
	CreatedAt time.Time         `bson:"created_at"`
}

// MongoStore is the concrete Store.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "connecting to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "pinging mongodb")
	}
	coll := client.Database(database).Collection(collection)
	return &MongoStore{coll: coll}, nil
}

func (s *MongoStore) Append(ctx context.Context, entry *task.LogEntry) error {
	doc := mongoLogDoc{
		LogID:     entry.LogID,
		AgentID:   entry.AgentID,
		TaskID:    entry.TaskID,
		Level:     string(entry.Level),
		Message:   entry.Message,
		Metadata:  entry.Metadata,
		CreatedAt: entry.CreatedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return huberrors.NewStorageUnavailable(err, "appending log entry")
	}
	return nil
}

func (s *MongoStore) Recent(ctx context.Context, agentID string, limit int) ([]*task.LogEntry, error) {
	filter := bson.D{}
	if agentID != "" {
		filter = bson.D{{Key: "agent_id", Value: agentID}}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "querying log entries")
	}
	defer cursor.Close(ctx)

	var out []*task.LogEntry
	for cursor.Next(ctx) {
		var doc mongoLogDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, huberrors.NewStorageUnavailable(err, "decoding log entry")
		}
		out = append(out, &task.LogEntry{
			LogID: doc.LogID, AgentID: doc.AgentID, TaskID: doc.TaskID,
			Level: task.LogLevel(doc.Level), Message: doc.Message,
			Metadata: doc.Metadata, CreatedAt: doc.CreatedAt,
		})
	}
	return out, nil
}
