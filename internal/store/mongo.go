package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// MongoStore keeps one collection per tenant, one record per document key.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

type mongoDocument struct {
	Key       string    `bson:"_id"`
	Body      string    `bson:"body"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Get(ctx context.Context, tenantID, key string) (Document, error) {
	var rec mongoDocument
	err := s.db.Collection(tenantID).FindOne(ctx, bson.M{"_id": key}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", tenantID, key, err)
	}
	return rec.document(), nil
}

func (s *MongoStore) Put(ctx context.Context, tenantID, key string, body []byte) (Document, error) {
	update := bson.M{
		"$set": bson.M{"body": string(body), "updatedAt": time.Now().UTC()},
		"$inc": bson.M{"version": int64(1)},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var rec mongoDocument
	if err := s.db.Collection(tenantID).FindOneAndUpdate(ctx, bson.M{"_id": key}, update, opts).Decode(&rec); err != nil {
		return Document{}, fmt.Errorf("put %s/%s: %w", tenantID, key, err)
	}
	return rec.document(), nil
}

func (s *MongoStore) CompareAndPut(ctx context.Context, tenantID, key string, body []byte, expected int64) (Document, error) {
	coll := s.db.Collection(tenantID)
	now := time.Now().UTC()
	if expected == 0 {
		rec := mongoDocument{Key: key, Body: string(body), Version: 1, UpdatedAt: now}
		if _, err := coll.InsertOne(ctx, rec); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return Document{}, ErrVersionConflict
			}
			return Document{}, fmt.Errorf("conditional put %s/%s: %w", tenantID, key, err)
		}
		return rec.document(), nil
	}

	filter := bson.M{"_id": key, "version": expected}
	update := bson.M{
		"$set": bson.M{"body": string(body), "updatedAt": now},
		"$inc": bson.M{"version": int64(1)},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var rec mongoDocument
	err := coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, ErrVersionConflict
	}
	if err != nil {
		return Document{}, fmt.Errorf("conditional put %s/%s: %w", tenantID, key, err)
	}
	return rec.document(), nil
}

func (r mongoDocument) document() Document {
	return Document{Body: []byte(r.Body), Version: r.Version, UpdatedAt: r.UpdatedAt}
}
