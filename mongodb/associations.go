package mongodb

import (
	"context"
	"errors"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type associationDocument struct {
	ServerURL string `bson:"server_url"`
	Handle    string `bson:"handle"`
	Secret    string `bson:"secret"`
	Issued    int64  `bson:"issued"`
	Lifetime  int64  `bson:"lifetime"`
	AssocType string `bson:"assoc_type"`
	// ExpiresAt is issued + lifetime, denormalized for DeleteExpired.
	ExpiresAt int64 `bson:"expires_at"`
}

func (d *associationDocument) toAssociation() (*socialauth.Association, error) {
	secret, err := socialauth.DecodeSecret(d.Secret)
	if err != nil {
		return nil, err
	}
	return &socialauth.Association{
		ServerURL: d.ServerURL,
		Handle:    d.Handle,
		Secret:    secret,
		Issued:    d.Issued,
		Lifetime:  d.Lifetime,
		AssocType: d.AssocType,
	}, nil
}

// AssociationRepository implements socialauth.AssociationRepository.
type AssociationRepository struct {
	collection *mongo.Collection
}

var _ socialauth.AssociationRepository = (*AssociationRepository)(nil)

func NewAssociationRepository(db *mongo.Database) *AssociationRepository {
	return &AssociationRepository{collection: db.Collection(AssociationsCollection)}
}

func (r *AssociationRepository) Save(ctx context.Context, assoc *socialauth.Association) error {
	doc := associationDocument{
		ServerURL: assoc.ServerURL,
		Handle:    assoc.Handle,
		Secret:    assoc.EncodedSecret(),
		Issued:    assoc.Issued,
		Lifetime:  assoc.Lifetime,
		AssocType: assoc.AssocType,
		ExpiresAt: assoc.Issued + assoc.Lifetime,
	}

	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"server_url": assoc.ServerURL, "handle": assoc.Handle},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (r *AssociationRepository) Get(ctx context.Context, serverURL, handle string) (*socialauth.Association, error) {
	var doc associationDocument
	err := r.collection.FindOne(ctx, bson.M{"server_url": serverURL, "handle": handle}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, socialauth.ErrNotFound
		}
		return nil, err
	}
	return doc.toAssociation()
}

func (r *AssociationRepository) ListByServer(ctx context.Context, serverURL string) ([]*socialauth.Association, error) {
	opts := options.Find().SetSort(bson.D{{Key: "issued", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"server_url": serverURL}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []associationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]*socialauth.Association, 0, len(docs))
	for i := range docs {
		assoc, err := docs[i].toAssociation()
		if err != nil {
			return nil, err
		}
		out = append(out, assoc)
	}
	return out, nil
}

func (r *AssociationRepository) Delete(ctx context.Context, serverURL, handle string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"server_url": serverURL, "handle": handle})
	return err
}

func (r *AssociationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": now.Unix()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
