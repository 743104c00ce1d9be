package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type responseDoc struct {
	Key       string    `bson:"_id"`
	Status    int       `bson:"response_status"`
	Body      []byte    `bson:"response_body"`
	CreatedAt time.Time `bson:"created_at"`
}

type ResponseCache struct {
	coll *mongo.Collection
}

func (c *ResponseCache) Lookup(ctx context.Context, key string) (int, []byte, bool, error) {
	var doc responseDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	return doc.Status, doc.Body, true, nil
}

func (c *ResponseCache) Save(ctx context.Context, key string, status int, body []byte) error {
	_, err := c.coll.InsertOne(ctx, responseDoc{Key: key, Status: status, Body: body, CreatedAt: time.Now().UTC()})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}
