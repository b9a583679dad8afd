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

// linkDocument keeps extra data as encoded JSON so integers beyond 2^53 and
// key order survive the BSON round trip.
type linkDocument struct {
	ID        string    `bson:"_id"`
	AccountID string    `bson:"account_id"`
	Provider  string    `bson:"provider"`
	UID       string    `bson:"uid"`
	ExtraData string    `bson:"extra_data"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d *linkDocument) toLink() (*socialauth.Link, error) {
	extra, err := socialauth.DecodeExtraData(d.ExtraData)
	if err != nil {
		return nil, err
	}
	return &socialauth.Link{
		ID:        d.ID,
		AccountID: d.AccountID,
		Provider:  d.Provider,
		UID:       d.UID,
		ExtraData: extra,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

// LinkRepository implements socialauth.LinkStore.
type LinkRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

var _ socialauth.LinkStore = (*LinkRepository)(nil)

func NewLinkRepository(db *mongo.Database) *LinkRepository {
	return &LinkRepository{
		collection: db.Collection(LinksCollection),
		now:        time.Now,
	}
}

func (r *LinkRepository) findOne(ctx context.Context, filter bson.M) (*socialauth.Link, error) {
	var doc linkDocument
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, socialauth.ErrNotFound
		}
		return nil, err
	}
	return doc.toLink()
}

func (r *LinkRepository) FindByProviderUID(ctx context.Context, provider, uid string) (*socialauth.Link, error) {
	return r.findOne(ctx, bson.M{"provider": provider, "uid": uid})
}

func (r *LinkRepository) FindByID(ctx context.Context, id string) (*socialauth.Link, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// Create relies on the unique (provider, uid) index.
func (r *LinkRepository) Create(ctx context.Context, link *socialauth.Link) (*socialauth.Link, error) {
	extra, err := socialauth.EncodeExtraData(link.ExtraData)
	if err != nil {
		return nil, err
	}

	doc := linkDocument{
		ID:        link.ID,
		AccountID: link.AccountID,
		Provider:  link.Provider,
		UID:       link.UID,
		ExtraData: extra,
		CreatedAt: link.CreatedAt.UTC(),
		UpdatedAt: link.UpdatedAt.UTC(),
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = r.now().UTC()
		doc.UpdatedAt = doc.CreatedAt
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, socialauth.ErrLinkExists
		}
		return nil, err
	}
	return doc.toLink()
}

func (r *LinkRepository) ListByAccount(ctx context.Context, accountID string) ([]*socialauth.Link, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"account_id": accountID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []linkDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	links := make([]*socialauth.Link, 0, len(docs))
	for i := range docs {
		link, err := docs[i].toLink()
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

func (r *LinkRepository) CountByAccount(ctx context.Context, accountID string, filter socialauth.LinkFilter) (int, error) {
	query := bson.M{"account_id": accountID}
	switch {
	case filter.ExcludeID != "":
		query["_id"] = bson.M{"$ne": filter.ExcludeID}
	case filter.ExcludeProvider != "":
		query["provider"] = bson.M{"$ne": filter.ExcludeProvider}
	}

	n, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *LinkRepository) UpdateExtraData(ctx context.Context, id string, data socialauth.ExtraData) error {
	extra, err := socialauth.EncodeExtraData(data)
	if err != nil {
		return err
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"extra_data": extra, "updated_at": r.now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return socialauth.ErrNotFound
	}
	return nil
}

func (r *LinkRepository) Delete(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (r *LinkRepository) DeleteByAccountProvider(ctx context.Context, accountID, provider string) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"account_id": accountID, "provider": provider})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// DeleteUnlessLast removes the selected documents, then counts what the
// account has left and puts them back when nothing is. Every caller counts
// after its own delete, so two concurrent calls can both back off but can
// never both strip the last link.
func (r *LinkRepository) DeleteUnlessLast(ctx context.Context, accountID string, filter socialauth.LinkFilter) (int64, error) {
	selector := bson.M{"account_id": accountID}
	switch {
	case filter.ExcludeID != "":
		selector["_id"] = filter.ExcludeID
	case filter.ExcludeProvider != "":
		selector["provider"] = filter.ExcludeProvider
	default:
		n, err := r.CountByAccount(ctx, accountID, filter)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, socialauth.ErrLastLink
		}
		return 0, nil
	}

	cursor, err := r.collection.Find(ctx, selector)
	if err != nil {
		return 0, err
	}
	var docs []linkDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return 0, err
	}

	ids := make([]string, len(docs))
	for i := range docs {
		ids[i] = docs[i].ID
	}
	var removed int64
	if len(ids) > 0 {
		res, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}, "account_id": accountID})
		if err != nil {
			return 0, err
		}
		removed = res.DeletedCount
	}

	left, err := r.collection.CountDocuments(ctx, bson.M{"account_id": accountID})
	if err != nil {
		return 0, errors.Join(err, r.restore(ctx, docs))
	}
	if left == 0 {
		if err := r.restore(ctx, docs); err != nil {
			return 0, err
		}
		return 0, socialauth.ErrLastLink
	}
	return removed, nil
}

func (r *LinkRepository) restore(ctx context.Context, docs []linkDocument) error {
	var errs []error
	for i := range docs {
		if _, err := r.collection.InsertOne(ctx, docs[i]); err != nil && !mongo.IsDuplicateKeyError(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
