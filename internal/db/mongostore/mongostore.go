// Package mongostore is the MongoDB audit record store. Records live in the
// audit_log_record collection with single-field indexes on type and when.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/routedesk/routedesk/internal/db/models"
)

// CollectionName is the collection audit records are written to
const CollectionName = "audit_log_record"

// Store saves and reads audit records in MongoDB
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect dials MongoDB and returns a Store over database.audit_log_record.
func Connect(ctx context.Context, uri, database string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := New(client.Database(database).Collection(CollectionName))
	s.client = client
	return s, nil
}

// New wraps an existing collection
func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll, client: coll.Database().Client()}
}

// Name identifies the store in metrics and logs
func (s *Store) Name() string { return "mongo" }

// Ping checks that the server is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the underlying client
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndices creates the type and when indexes. It is idempotent.
func (s *Store) EnsureIndices(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "type", Value: 1}}},
		{Keys: bson.D{{Key: "when", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create audit record indexes: %w", err)
	}
	return nil
}

// Save inserts a record. An empty ID is assigned a new UUID.
func (s *Store) Save(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Details == nil {
		rec.Details = map[string]any{}
	}
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// List returns records matching filter, newest first, and the total match count.
func (s *Store) List(ctx context.Context, filter models.AuditRecordFilter, limit, offset int) ([]*models.AuditRecord, int, error) {
	q := buildFilter(filter)

	total, err := s.coll.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count audit records: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "when", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cur, err := s.coll.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer cur.Close(ctx)

	records := make([]*models.AuditRecord, 0)
	for cur.Next(ctx) {
		var rec models.AuditRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, 0, fmt.Errorf("failed to decode audit record: %w", err)
		}
		records = append(records, normalizeRecord(&rec))
	}
	if err := cur.Err(); err != nil {
		return nil, 0, err
	}
	return records, int(total), nil
}

// Get returns the record with the given ID, or nil when it does not exist
func (s *Store) Get(ctx context.Context, id string) (*models.AuditRecord, error) {
	var rec models.AuditRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	return normalizeRecord(&rec), nil
}

func buildFilter(f models.AuditRecordFilter) bson.M {
	q := bson.M{}
	if f.Type != "" {
		q["type"] = f.Type
	}
	if f.UserID != "" {
		q["userId"] = f.UserID
	}
	if f.Start != nil || f.End != nil {
		when := bson.M{}
		if f.Start != nil {
			when["$gte"] = *f.Start
		}
		if f.End != nil {
			when["$lte"] = *f.End
		}
		q["when"] = when
	}
	return q
}

// normalizeRecord converts nested BSON documents in Details to plain maps and
// slices so records read from Mongo encode to JSON the same way as Postgres ones.
func normalizeRecord(rec *models.AuditRecord) *models.AuditRecord {
	details := make(map[string]any, len(rec.Details))
	for k, v := range rec.Details {
		details[k] = normalize(v)
	}
	rec.Details = details
	rec.When = rec.When.UTC()
	return rec
}

func normalize(v any) any {
	switch t := v.(type) {
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case primitive.M:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = normalize(e)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = normalize(e)
		}
		return m
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}
