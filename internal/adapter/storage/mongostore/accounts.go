package mongostore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

type accountDoc struct {
	MobileNumber string               `bson:"mobile_number"`
	Email        string               `bson:"email"`
	Name         string               `bson:"name"`
	Role         domain.Role          `bson:"role"`
	Balance      int64                `bson:"balance"`
	Status       domain.AccountStatus `bson:"status"`
	PinHash      string               `bson:"pin_hash"`
	CreatedAt    time.Time            `bson:"created_at"`
	// Identifiers holds the mobile number and the email under one unique
	// multikey index, so neither can collide with either field of another
	// account.
	Identifiers  []string             `bson:"identifiers"`
}

func (d accountDoc) toDomain() *domain.Account {
	return &domain.Account{
		Name:         d.Name,
		MobileNumber: d.MobileNumber,
		Email:        d.Email,
		Role:         d.Role,
		Balance:      d.Balance,
		Status:       d.Status,
		PinHash:      d.PinHash,
		CreatedAt:    d.CreatedAt,
	}
}

func byIdentifier(identifier string) bson.M {
	return bson.M{"identifiers": identifier}
}

func (s *Store) CreateAccount(ctx context.Context, acc *domain.Account) error {
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	}
	_, err := s.accounts.InsertOne(ctx, accountDoc{
		MobileNumber: acc.MobileNumber,
		Email:        acc.Email,
		Name:         acc.Name,
		Role:         acc.Role,
		Balance:      acc.Balance,
		Status:       acc.Status,
		PinHash:      acc.PinHash,
		CreatedAt:    acc.CreatedAt,
		Identifiers:  []string{acc.MobileNumber, acc.Email},
	})
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, identifier string) (*domain.Account, error) {
	var doc accountDoc
	err := s.accounts.FindOne(ctx, byIdentifier(identifier)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) ListAccounts(ctx context.Context, filter string) ([]domain.Account, error) {
	query := bson.M{}
	if filter != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(filter), Options: "i"}
		query = bson.M{"$or": bson.A{
			bson.M{"mobile_number": pattern},
			bson.M{"email": pattern},
		}}
	}

	cursor, err := s.accounts.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer cursor.Close(ctx)

	accounts := []domain.Account{}
	for cursor.Next(ctx) {
		var doc accountDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		accounts = append(accounts, *doc.toDomain())
	}
	return accounts, cursor.Err()
}

// AdjustBalance folds the balance guard into the update filter. The
// upper bound keeps a credit from overflowing int64.
func (s *Store) AdjustBalance(ctx context.Context, identifier string, delta int64, requireActive bool) (*domain.Account, error) {
	guard := bson.M{"$gte": -delta}
	if delta > 0 {
		guard = bson.M{"$gte": 0, "$lte": math.MaxInt64 - delta}
	}
	filter := byIdentifier(identifier)
	filter["balance"] = guard
	if requireActive {
		filter["status"] = domain.StatusActive
	}

	var doc accountDoc
	err := s.accounts.FindOneAndUpdate(ctx, filter,
		bson.M{"$inc": bson.M{"balance": delta}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.toDomain(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to adjust balance: %w", err)
	}

	acc, err := s.GetAccount(ctx, identifier)
	if err != nil {
		return nil, err
	}
	switch {
	case requireActive && acc.Status != domain.StatusActive:
		return nil, domain.ErrAccountInactive
	case delta > 0:
		return nil, domain.ErrBalanceOverflow
	default:
		return nil, domain.ErrPreconditionFailed
	}
}

func (s *Store) TransitionStatus(ctx context.Context, identifier string, from, to domain.AccountStatus, seed int64) (*domain.Account, error) {
	filter := byIdentifier(identifier)
	filter["status"] = from
	if seed > 0 {
		filter["balance"] = bson.M{"$lte": math.MaxInt64 - seed}
	}

	var doc accountDoc
	err := s.accounts.FindOneAndUpdate(ctx, filter,
		bson.M{"$set": bson.M{"status": to}, "$inc": bson.M{"balance": seed}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.toDomain(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update account status: %w", err)
	}

	acc, err := s.GetAccount(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if acc.Status == from {
		return nil, domain.ErrBalanceOverflow
	}
	return nil, domain.ErrStatusConflict
}
