package datasource

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
)

// Collection is the subset of *mongo.Collection the adapter uses.
type Collection interface {
	CountDocuments(ctx context.Context, filter any, opts ...*options.CountOptions) (int64, error)
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// MongoConfig describes one collection exposed as a data source.
type MongoConfig struct {
	// Fields maps logical filter keys to document paths. Unmapped keys keep their name.
	Fields map[string]string
	// Base holds predicates applied to every query.
	Base bson.M
	Sort bson.D
	// Project flattens a document into an export row. Nil returns the document as is.
	Project func(doc bson.M) domain.Row
}

// MongoCollection is a read-only collection adapter.
type MongoCollection struct {
	coll Collection
	cfg  MongoConfig
	log  infralogger.Logger
}

var _ domain.DataSource = (*MongoCollection)(nil)

// NewMongoCollection creates a collection adapter.
func NewMongoCollection(coll Collection, cfg MongoConfig, log infralogger.Logger) *MongoCollection {
	if log == nil {
		log = infralogger.NewNop()
	}
	return &MongoCollection{coll: coll, cfg: cfg, log: log}
}

// Count returns the number of documents matching filter.
func (m *MongoCollection) Count(ctx context.Context, filter domain.Filter) (int64, error) {
	query := m.toBSON(filter)

	n, err := m.coll.CountDocuments(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("%w: count documents: %w", domain.ErrSourceUnavailable, err)
	}

	m.log.Debug("Counted documents", infralogger.Int64("count", n), infralogger.Any("filter", query))
	return n, nil
}

// Find returns one page of projected documents.
func (m *MongoCollection) Find(ctx context.Context, q domain.Query) ([]domain.Row, error) {
	query := m.toBSON(q.Filter)

	opts := options.Find().
		SetSkip(int64(q.Offset)).
		SetLimit(int64(q.Limit))
	if len(m.cfg.Sort) > 0 {
		opts.SetSort(m.cfg.Sort)
	}

	cursor, err := m.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: find documents: %w", domain.ErrSourceUnavailable, err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []bson.M
	if decodeErr := cursor.All(ctx, &docs); decodeErr != nil {
		return nil, fmt.Errorf("decode documents: %w", decodeErr)
	}

	rows := make([]domain.Row, len(docs))
	for i, doc := range docs {
		if m.cfg.Project != nil {
			rows[i] = m.cfg.Project(doc)
			continue
		}
		rows[i] = domain.Row(doc)
	}
	return rows, nil
}

func (m *MongoCollection) toBSON(filter domain.Filter) bson.M {
	out := make(bson.M, len(m.cfg.Base)+len(filter))
	for k, v := range m.cfg.Base {
		out[k] = v
	}

	for key, value := range filter {
		path := key
		if mapped, ok := m.cfg.Fields[key]; ok {
			path = mapped
		}
		if _, fixed := m.cfg.Base[path]; fixed {
			continue
		}

		switch v := value.(type) {
		case domain.Range:
			r := bson.M{}
			if v.Gte != nil {
				r["$gte"] = *v.Gte
			}
			if v.Lte != nil {
				r["$lte"] = *v.Lte
			}
			if len(r) > 0 {
				out[path] = r
			}
		case domain.In:
			out[path] = bson.M{"$in": v.Values}
		default:
			out[path] = v
		}
	}
	return out
}
