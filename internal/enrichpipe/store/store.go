// Package store implements the document store adapter: idempotent
// upsert-by-url, lookups, section aggregation, and a
// serverless-friendly connection policy with bounded-backoff
// reconnection and an in-memory stub as the final fallback.
package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/article"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/errs"
	"github.com/NukkadFoods/Webstorybackend/internal/logger"
)

// Store is the document store adapter's public contract.
type Store interface {
	UpsertByURL(ctx context.Context, a article.Article) error
	FindByURL(ctx context.Context, url string) (*article.Article, error)
	FindByID(ctx context.Context, id string) (*article.Article, error)
	CountBy(ctx context.Context, section string, enrichedOnly bool) (int64, error)
	AggregateCountsBySection(ctx context.Context) (map[string]int64, error)
	Close(ctx context.Context) error
}

const (
	callTimeout   = 20 * time.Second
	maxReconnects = 5
)

// Adapter is the production Store: a MongoDB-backed primary with an
// in-memory stub fallback for reads when the connection is down;
// writes during an outage still raise an error to the caller even
// though the stub records them.
type Adapter struct {
	client     *mongo.Client
	collection *mongo.Collection
	stub       *memStub
	uri        string
}

// Connect dials uri with a serverless-friendly connection policy and
// ensures the collection's indexes exist.
func Connect(ctx context.Context, uri, database, collection string) (*Adapter, error) {
	a := &Adapter{stub: newMemStub(), uri: uri}

	client, err := connectWithBackoff(ctx, uri)
	if err != nil {
		logger.Error("document store connect failed after retries; serving reads from in-memory stub", err)
		return a, nil // degrade rather than fail process startup
	}
	a.client = client
	a.collection = client.Database(database).Collection(collection)

	if err := a.ensureIndexes(ctx); err != nil {
		logger.Warn("failed to ensure store indexes", "error", err)
	}
	return a, nil
}

func connectWithBackoff(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(1).
		SetServerSelectionTimeout(5 * time.Second).
		SetSocketTimeout(20 * time.Second)

	var lastErr error
	for attempt := 0; attempt < maxReconnects; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := mongo.Connect(connectCtx, opts)
		if err == nil {
			pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
			err = client.Ping(pingCtx, nil)
			pingCancel()
			cancel()
			if err == nil {
				return client, nil
			}
		} else {
			cancel()
		}
		lastErr = err
		logger.Warn("document store connect attempt failed", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("%w: %v", errs.ErrStoreDown, lastErr)
}

func (a *Adapter) ensureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "url", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "section", Value: 1}, {Key: "publisheddate", Value: -1}}},
		{Keys: bson.D{{Key: "aicommentary", Value: 1}, {Key: "section", Value: 1}}},
	})
	return err
}

func (a *Adapter) connected() bool {
	return a.client != nil && a.collection != nil
}

// UpsertByURL atomically inserts or merges keyed on url.
func (a *Adapter) UpsertByURL(ctx context.Context, art article.Article) error {
	a.stub.upsertByURL(art)
	if !a.connected() {
		return fmt.Errorf("%w: upsert for %s", errs.ErrStoreDown, art.URL)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	filter := bson.M{"url": art.URL}
	update := bson.M{"$set": art}
	_, err := a.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStoreDown, err)
	}
	return nil
}

func (a *Adapter) FindByURL(ctx context.Context, url string) (*article.Article, error) {
	if !a.connected() {
		return a.stub.findByURL(url), nil
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var out article.Article
	err := a.collection.FindOne(ctx, bson.M{"url": url}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		logger.Warn("store FindByURL failed, falling back to stub", "error", err)
		return a.stub.findByURL(url), nil
	}
	return &out, nil
}

func (a *Adapter) FindByID(ctx context.Context, id string) (*article.Article, error) {
	if !a.connected() {
		return a.stub.findByID(id), nil
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var out article.Article
	err := a.collection.FindOne(ctx, bson.M{"id": id}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		logger.Warn("store FindByID failed, falling back to stub", "error", err)
		return a.stub.findByID(id), nil
	}
	return &out, nil
}

// CountBy counts articles in section; if enrichedOnly, restricts to
// articles whose aiCommentary is non-empty (used by the threshold
// gate).
func (a *Adapter) CountBy(ctx context.Context, section string, enrichedOnly bool) (int64, error) {
	if !a.connected() {
		return a.stub.countBy(section, enrichedOnly), nil
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	filter := bson.M{"section": section}
	if enrichedOnly {
		filter["aicommentary"] = bson.M{"$nin": bson.A{"", nil}}
	}
	n, err := a.collection.CountDocuments(ctx, filter)
	if err != nil {
		return a.stub.countBy(section, enrichedOnly), nil
	}
	return n, nil
}

// AggregateCountsBySection returns, per section, the count of articles
// whose aiCommentary is non-empty (the Threshold Gate's primary input).
func (a *Adapter) AggregateCountsBySection(ctx context.Context) (map[string]int64, error) {
	if !a.connected() {
		return a.stub.aggregateCountsBySection(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	pipeline := bson.A{
		bson.M{"$match": bson.M{"aicommentary": bson.M{"$nin": bson.A{"", nil}}}},
		bson.M{"$group": bson.M{"_id": "$section", "count": bson.M{"$sum": 1}}},
	}
	cursor, err := a.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return a.stub.aggregateCountsBySection(), nil
	}
	defer cursor.Close(ctx)

	out := make(map[string]int64)
	var row struct {
		ID    string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	for cursor.Next(ctx) {
		if err := cursor.Decode(&row); err != nil {
			continue
		}
		out[row.ID] = row.Count
	}
	return out, nil
}

func (a *Adapter) Close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Disconnect(ctx)
}
