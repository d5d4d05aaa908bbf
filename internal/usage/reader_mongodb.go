package usage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoDBReader implements Reader for MongoDB.
type MongoDBReader struct {
	collection *mongo.Collection
}

// NewMongoDBReader creates a new MongoDB usage reader.
func NewMongoDBReader(database *mongo.Database) (*MongoDBReader, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBReader{collection: database.Collection(tableName)}, nil
}

// Summary implements Reader.
func (r *MongoDBReader) Summary(ctx context.Context, params QueryParams) (*Summary, error) {
	match := bson.D{}
	if !params.Since.IsZero() {
		match = append(match, bson.E{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: params.Since.UTC()}}})
	}
	if params.Model != "" {
		match = append(match, bson.E{Key: "model", Value: params.Model})
	}

	pipeline := bson.A{}
	if len(match) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: match}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$model"},
			{Key: "requests", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "prompt_tokens", Value: bson.D{{Key: "$sum", Value: "$prompt_tokens"}}},
			{Key: "completion_tokens", Value: bson.D{{Key: "$sum", Value: "$completion_tokens"}}},
			{Key: "total_tokens", Value: bson.D{{Key: "$sum", Value: "$total_tokens"}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	)

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage summary: %w", err)
	}
	defer cursor.Close(ctx)

	var models []ModelUsage
	for cursor.Next(ctx) {
		var row struct {
			Model            string `bson:"_id"`
			Requests         int64  `bson:"requests"`
			PromptTokens     int64  `bson:"prompt_tokens"`
			CompletionTokens int64  `bson:"completion_tokens"`
			TotalTokens      int64  `bson:"total_tokens"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode usage summary: %w", err)
		}
		models = append(models, ModelUsage(row))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage summary cursor: %w", err)
	}

	return summarize(models), nil
}
