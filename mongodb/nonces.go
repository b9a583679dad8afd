package mongodb

import (
	"context"

	socialauth "github.com/goliatone/go-socialauth"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// nonceDocument is keyed by socialauth.NonceKey, so the _id index makes
// InsertOne the insert-if-absent.
type nonceDocument struct {
	ID        string `bson:"_id"`
	ServerURL string `bson:"server_url"`
	Timestamp int64  `bson:"timestamp"`
	Salt      string `bson:"salt"`
}

// NonceRepository implements socialauth.NonceRepository.
type NonceRepository struct {
	collection *mongo.Collection
}

var _ socialauth.NonceRepository = (*NonceRepository)(nil)

func NewNonceRepository(db *mongo.Database) *NonceRepository {
	return &NonceRepository{collection: db.Collection(NoncesCollection)}
}

func (r *NonceRepository) Add(ctx context.Context, nonce socialauth.Nonce) (bool, error) {
	_, err := r.collection.InsertOne(ctx, nonceDocument{
		ID:        socialauth.NonceKey(nonce),
		ServerURL: nonce.ServerURL,
		Timestamp: nonce.Timestamp,
		Salt:      nonce.Salt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *NonceRepository) DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
