package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweetpotato0/regulatory-rag/audit"
	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config holds MongoDB connection configuration
type Config struct {
	URI        string
	Database   string
	Collection string
}

// DefaultConfig returns default MongoDB configuration
func DefaultConfig() *Config {
	return &Config{
		URI:        "mongodb://localhost:27017",
		Database:   "regulatory_rag",
		Collection: "audit_runs",
	}
}

// runDocument is the stored shape; the response is kept as JSON text.
type runDocument struct {
	RunID        string    `bson:"_id"`
	Query        string    `bson:"query"`
	ModelVersion string    `bson:"model_version"`
	Status       string    `bson:"status"`
	Confidence   float64   `bson:"confidence"`
	Stage        string    `bson:"stage,omitempty"`
	Error        string    `bson:"error,omitempty"`
	States       []string  `bson:"states"`
	Response     string    `bson:"response,omitempty"`
	StartedAt    time.Time `bson:"started_at"`
	CreatedAt    time.Time `bson:"created_at"`
}

func toDocument(rec *audit.Record) runDocument {
	return runDocument{
		RunID:        rec.RunID,
		Query:        rec.Query,
		ModelVersion: rec.ModelVersion,
		Status:       string(rec.Status),
		Confidence:   rec.Confidence,
		Stage:        rec.Stage,
		Error:        rec.Error,
		States:       append([]string{}, rec.States...),
		Response:     string(rec.Response),
		StartedAt:    rec.StartedAt,
		CreatedAt:    rec.CreatedAt,
	}
}

func (d runDocument) record() *audit.Record {
	rec := &audit.Record{
		RunID:        d.RunID,
		Query:        d.Query,
		ModelVersion: d.ModelVersion,
		Status:       audit.Status(d.Status),
		Confidence:   d.Confidence,
		Stage:        d.Stage,
		Error:        d.Error,
		States:       d.States,
		StartedAt:    d.StartedAt,
		CreatedAt:    d.CreatedAt,
	}
	if d.Response != "" {
		rec.Response = []byte(d.Response)
	}
	return rec
}

// Recorder persists audit records in a MongoDB collection.
type Recorder struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// New connects to MongoDB and ensures the created_at index exists.
func New(ctx context.Context, cfg *Config) (*Recorder, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	r := &Recorder{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}
	if err := r.createIndexes(connectCtx); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return r, nil
}

func (r *Recorder) createIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
	return err
}

// Record upserts rec.
func (r *Recorder) Record(ctx context.Context, rec *audit.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	doc := toDocument(rec)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.RunID}, doc, opts); err != nil {
		return fmt.Errorf("failed to record audit run: %w", err)
	}
	return nil
}

// Get retrieves the record for runID.
func (r *Recorder) Get(ctx context.Context, runID string) (*audit.Record, error) {
	var doc runDocument
	if err := r.collection.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("audit record %s: %w", runID, errorskg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	return doc.record(), nil
}

// List returns records newest first.
func (r *Recorder) List(ctx context.Context, limit int) ([]*audit.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []runDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode audit records: %w", err)
	}
	out := make([]*audit.Record, len(docs))
	for i, d := range docs {
		out[i] = d.record()
	}
	return out, nil
}

// Count returns the number of stored records.
func (r *Recorder) Count(ctx context.Context) (int, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return int(count), nil
}

// Clear removes all records.
func (r *Recorder) Clear(ctx context.Context) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear audit records: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection
func (r *Recorder) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return r.client.Disconnect(ctx)
}
