package mongostore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

type requestDoc struct {
	ID            string                 `bson:"_id"`
	Customer      string                 `bson:"customer"`
	Agent         string                 `bson:"agent"`
	Amount        int64                  `bson:"amount"`
	Type          domain.TransactionType `bson:"type"`
	Status        domain.RequestStatus   `bson:"status"`
	TransactionID string                 `bson:"transaction_id,omitempty"`
	ClaimedUntil  *time.Time             `bson:"claimed_until,omitempty"`
	ClaimToken    string                 `bson:"claim_token,omitempty"`
	SettlingSince *time.Time             `bson:"settling_since,omitempty"`
	CreatedAt     time.Time              `bson:"created_at"`
	ResolvedAt    *time.Time             `bson:"resolved_at,omitempty"`
}

func (d requestDoc) toDomain() *domain.PendingRequest {
	return &domain.PendingRequest{
		ID:            d.ID,
		Customer:      d.Customer,
		Agent:         d.Agent,
		Amount:        d.Amount,
		Type:          d.Type,
		Status:        d.Status,
		TransactionID: d.TransactionID,
		CreatedAt:     d.CreatedAt,
		ResolvedAt:    d.ResolvedAt,
		ClaimToken:    d.ClaimToken,
		SettlingSince: d.SettlingSince,
	}
}

var clearClaim = bson.M{"claimed_until": "", "claim_token": "", "settling_since": ""}

func (s *Store) CreateRequest(ctx context.Context, req *domain.PendingRequest) error {
	doc := requestDoc{
		ID:        uuid.NewString(),
		Customer:  req.Customer,
		Agent:     req.Agent,
		Amount:    req.Amount,
		Type:      req.Type,
		Status:    domain.RequestPending,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.requests.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create cash request: %w", err)
	}
	req.ID = doc.ID
	req.Status = doc.Status
	req.CreatedAt = doc.CreatedAt
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*domain.PendingRequest, error) {
	var doc requestDoc
	err := s.requests.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cash request: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) ListPending(ctx context.Context, agent string, limit int) iter.Seq2[domain.PendingRequest, error] {
	return func(yield func(domain.PendingRequest, error) bool) {
		opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
		if limit > 0 {
			opts.SetLimit(int64(limit))
		}
		cursor, err := s.requests.Find(ctx, bson.M{"agent": agent, "status": domain.RequestPending}, opts)
		if err != nil {
			yield(domain.PendingRequest{}, fmt.Errorf("failed to list cash requests: %w", err))
			return
		}
		defer cursor.Close(context.WithoutCancel(ctx))

		for cursor.Next(ctx) {
			var doc requestDoc
			if err := cursor.Decode(&doc); err != nil {
				yield(domain.PendingRequest{}, err)
				return
			}
			if !yield(*doc.toDomain(), nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(domain.PendingRequest{}, err)
		}
	}
}

func (s *Store) Claim(ctx context.Context, id string, until time.Time) (string, error) {
	filter := bson.M{
		"_id":            id,
		"status":         domain.RequestPending,
		"settling_since": nil,
		"$or": bson.A{
			bson.M{"claimed_until": nil},
			bson.M{"claimed_until": bson.M{"$lte": s.now()}},
		},
	}
	token := uuid.NewString()
	res, err := s.requests.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"claimed_until": until, "claim_token": token}})
	if err != nil {
		return "", fmt.Errorf("failed to claim cash request: %w", err)
	}
	if res.MatchedCount == 1 {
		return token, nil
	}

	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return "", err
	}
	if req.Status != domain.RequestPending {
		return "", domain.ErrAlreadyResolved
	}
	return "", domain.ErrRequestBusy
}

func (s *Store) BeginSettlement(ctx context.Context, id, token string) error {
	if token == "" {
		return domain.ErrClaimLost
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	filter := bson.M{
		"_id":            id,
		"status":         domain.RequestPending,
		"claim_token":    token,
		"settling_since": nil,
		"claimed_until":  bson.M{"$gt": now},
	}
	res, err := s.requests.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"settling_since": now}})
	if err != nil {
		return fmt.Errorf("failed to begin settlement: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	return s.lostClaim(ctx, id)
}

func (s *Store) Release(ctx context.Context, id, token string) error {
	if token == "" {
		return nil
	}
	_, err := s.requests.UpdateOne(ctx, bson.M{"_id": id, "claim_token": token}, bson.M{"$unset": clearClaim})
	return err
}

func (s *Store) Resolve(ctx context.Context, id, token string, status domain.RequestStatus, transactionID string) (*domain.PendingRequest, error) {
	if token == "" {
		return nil, s.lostClaim(ctx, id)
	}
	set := bson.M{
		"status":      status,
		"resolved_at": s.now().UTC().Truncate(time.Millisecond),
	}
	if transactionID != "" {
		set["transaction_id"] = transactionID
	}

	var doc requestDoc
	err := s.requests.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": domain.RequestPending, "claim_token": token},
		bson.M{"$set": set, "$unset": clearClaim},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, s.lostClaim(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cash request: %w", err)
	}
	return doc.toDomain(), nil
}

// lostClaim explains why a fenced write matched no document.
func (s *Store) lostClaim(ctx context.Context, id string) error {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != domain.RequestPending {
		return domain.ErrAlreadyResolved
	}
	return domain.ErrClaimLost
}

func (s *Store) ListSettling(ctx context.Context, before time.Time) iter.Seq2[domain.PendingRequest, error] {
	return func(yield func(domain.PendingRequest, error) bool) {
		filter := bson.M{
			"status":         domain.RequestPending,
			"settling_since": bson.M{"$lt": before},
		}
		opts := options.Find().SetSort(bson.D{{Key: "settling_since", Value: 1}})
		cursor, err := s.requests.Find(ctx, filter, opts)
		if err != nil {
			yield(domain.PendingRequest{}, fmt.Errorf("failed to list settling cash requests: %w", err))
			return
		}
		defer cursor.Close(context.WithoutCancel(ctx))

		for cursor.Next(ctx) {
			var doc requestDoc
			if err := cursor.Decode(&doc); err != nil {
				yield(domain.PendingRequest{}, err)
				return
			}
			if !yield(*doc.toDomain(), nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(domain.PendingRequest{}, err)
		}
	}
}
