package mongostore

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

type transactionDoc struct {
	ID        string                 `bson:"_id"`
	Seq       primitive.ObjectID     `bson:"seq"`
	Sender    string                 `bson:"sender"`
	Recipient string                 `bson:"recipient"`
	Amount    int64                  `bson:"amount"`
	Type      domain.TransactionType `bson:"type"`
	Status    string                 `bson:"status"`
	RequestID string                 `bson:"request_id,omitempty"`
	CreatedAt time.Time              `bson:"created_at"`
}

// Append inserts the entry. The collection is never updated, so the
// log stays append-only. A partial unique index on request_id keeps one
// entry per cash request.
func (s *Store) Append(ctx context.Context, tx *domain.Transaction) (string, error) {
	if err := domain.ValidateEntry(tx); err != nil {
		return "", err
	}
	doc := transactionDoc{
		ID:        uuid.NewString(),
		Seq:       primitive.NewObjectID(),
		Sender:    tx.Sender,
		Recipient: tx.Recipient,
		Amount:    tx.Amount,
		Type:      tx.Type,
		Status:    domain.SettlementApproved,
		RequestID: tx.RequestID,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.transactions.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", domain.ErrAlreadySettled
		}
		return "", fmt.Errorf("failed to append transaction: %w", err)
	}
	tx.ID = doc.ID
	tx.Status = doc.Status
	tx.CreatedAt = doc.CreatedAt
	return tx.ID, nil
}

func (s *Store) Query(ctx context.Context, q domain.TransactionQuery) iter.Seq2[domain.Transaction, error] {
	return func(yield func(domain.Transaction, error) bool) {
		filter := bson.M{}
		if q.Account != "" {
			filter["$or"] = bson.A{
				bson.M{"sender": q.Account},
				bson.M{"recipient": q.Account},
			}
		}
		if q.RequestID != "" {
			filter["request_id"] = q.RequestID
		}
		opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}})
		if q.Limit > 0 {
			opts.SetLimit(int64(q.Limit))
		}

		cursor, err := s.transactions.Find(ctx, filter, opts)
		if err != nil {
			yield(domain.Transaction{}, fmt.Errorf("failed to query transactions: %w", err))
			return
		}
		defer cursor.Close(context.WithoutCancel(ctx))

		for cursor.Next(ctx) {
			var doc transactionDoc
			if err := cursor.Decode(&doc); err != nil {
				yield(domain.Transaction{}, err)
				return
			}
			tx := domain.Transaction{
				ID:        doc.ID,
				Sender:    doc.Sender,
				Recipient: doc.Recipient,
				Amount:    doc.Amount,
				Type:      doc.Type,
				Status:    doc.Status,
				RequestID: doc.RequestID,
				CreatedAt: doc.CreatedAt,
			}
			if !yield(tx, nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(domain.Transaction{}, err)
		}
	}
}
