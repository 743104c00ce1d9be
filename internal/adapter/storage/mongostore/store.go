// Package mongostore keeps accounts, the transaction log, cash requests and
// the webhook outbox in MongoDB. Balance changes rely on single-document
// atomicity: every conditional update is one FindOneAndUpdate.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	accountsCollection     = "accounts"
	transactionsCollection = "transactions"
	requestsCollection     = "cash_requests"
	jobsCollection         = "webhook_jobs"
	idempotencyCollection  = "idempotency_keys"

	serverSelectionTimeout = 5 * time.Second
)

type Store struct {
	client       *mongo.Client
	accounts     *mongo.Collection
	transactions *mongo.Collection
	requests     *mongo.Collection
	now          func() time.Time
}

// Connect opens the client, verifies the primary is reachable and makes
// sure the indexes the store depends on exist.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("MONGODB_URI is not set")
	}

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(serverSelectionTimeout))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("unable to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:       client,
		accounts:     db.Collection(accountsCollection),
		transactions: db.Collection(transactionsCollection),
		requests:     db.Collection(requestsCollection),
		now:          time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}

	slog.Info("✅ Successfully connected to MongoDB", "database", database)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.accounts: {
			{Keys: bson.D{{Key: "mobile_number", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "identifiers", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		s.transactions: {
			{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "created_at", Value: -1}}},
			{
				Keys: bson.D{{Key: "request_id", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"request_id": bson.M{"$type": "string"}}),
			},
		},
		s.requests: {
			{Keys: bson.D{{Key: "agent", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "settling_since", Value: 1}}},
		},
		s.jobs(): {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_run_at", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "locked_until", Value: 1}}},
		},
	}

	var errs []error
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			errs = append(errs, fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) jobs() *mongo.Collection {
	return s.accounts.Database().Collection(jobsCollection)
}

// Jobs returns the webhook outbox stored alongside the ledger.
func (s *Store) Jobs() *JobQueue {
	return &JobQueue{coll: s.jobs(), now: s.now}
}

// ResponseCache returns the idempotency cache stored alongside the ledger.
func (s *Store) ResponseCache() *ResponseCache {
	return &ResponseCache{coll: s.accounts.Database().Collection(idempotencyCollection)}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
