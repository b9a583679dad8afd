// Package mongodb implements the socialauth stores on MongoDB with the v2
// driver. Unique indexes carry the uniqueness guarantees; duplicate key
// errors are mapped to the socialauth sentinels.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	LinksCollection        = "social_auth_links"
	AssociationsCollection = "social_auth_associations"
	NoncesCollection       = "social_auth_nonces"
)

// Connect opens a client and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri)
	opts.SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes every repository relies on. Safe to call
// repeatedly.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		LinksCollection: {
			{
				Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "uid", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uq_provider_uid"),
			},
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: 1}},
				Options: options.Index().SetName("idx_account"),
			},
		},
		AssociationsCollection: {
			{
				Keys:    bson.D{{Key: "server_url", Value: 1}, {Key: "handle", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uq_server_handle"),
			},
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetName("idx_expires_at"),
			},
		},
		NoncesCollection: {
			{
				Keys:    bson.D{{Key: "timestamp", Value: 1}},
				Options: options.Index().SetName("idx_timestamp"),
			},
		},
	}

	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes for %s: %w", name, err)
		}
	}
	return nil
}
