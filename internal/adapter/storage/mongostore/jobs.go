package mongostore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ibrahimkeyboad/gowallet/internal/core/worker"
)

type jobDoc struct {
	ID          string     `bson:"_id"`
	URL         string     `bson:"url"`
	Payload     []byte     `bson:"payload"`
	Status      string     `bson:"status"`
	Attempts    int        `bson:"attempts"`
	NextRunAt   time.Time  `bson:"next_run_at"`
	LockedUntil *time.Time `bson:"locked_until,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
}

// JobQueue is the webhook outbox collection.
type JobQueue struct {
	coll *mongo.Collection
	now  func() time.Time
}

func (q *JobQueue) Enqueue(ctx context.Context, url string, payload []byte) error {
	now := q.now().UTC()
	_, err := q.coll.InsertOne(ctx, jobDoc{
		ID:        uuid.NewString(),
		URL:       url,
		Payload:   payload,
		Status:    "PENDING",
		NextRunAt: now,
		CreatedAt: now,
	})
	return err
}

// Next hands out the oldest due job. A PROCESSING job whose lease ran out
// is due again.
func (q *JobQueue) Next(ctx context.Context) (*worker.Job, error) {
	now := q.now().UTC()
	filter := bson.M{"$or": bson.A{
		bson.M{"status": "PENDING", "next_run_at": bson.M{"$lte": now}},
		bson.M{"status": "PROCESSING", "locked_until": bson.M{"$lte": now}},
	}}
	var doc jobDoc
	err := q.coll.FindOneAndUpdate(ctx, filter,
		bson.M{"$set": bson.M{"status": "PROCESSING", "locked_until": now.Add(worker.ProcessingLease)}},
		options.FindOneAndUpdate().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &worker.Job{ID: doc.ID, URL: doc.URL, Payload: doc.Payload, Attempts: doc.Attempts}, nil
}

func (q *JobQueue) Complete(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, "COMPLETED")
}

func (q *JobQueue) Retry(ctx context.Context, id string, nextRun time.Time) error {
	_, err := q.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"status": "PENDING", "next_run_at": nextRun},
		"$inc": bson.M{"attempts": 1},
	})
	return err
}

func (q *JobQueue) Fail(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, "FAILED")
}

func (q *JobQueue) setStatus(ctx context.Context, id, status string) error {
	_, err := q.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"status": status}})
	return err
}
