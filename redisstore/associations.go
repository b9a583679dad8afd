package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
	rdb "github.com/redis/go-redis/v9"
)

type associationRecord struct {
	Secret    string `json:"secret"`
	Issued    int64  `json:"issued"`
	Lifetime  int64  `json:"lifetime"`
	AssocType string `json:"assoc_type"`
}

// AssociationRepository implements socialauth.AssociationRepository with one
// hash per server URL, field = handle. A set tracks the server URLs so
// DeleteExpired can find every hash.
type AssociationRepository struct {
	client rdb.UniversalClient
	opts   options
}

var _ socialauth.AssociationRepository = (*AssociationRepository)(nil)

func NewAssociationRepository(client rdb.UniversalClient, opts ...Option) *AssociationRepository {
	return &AssociationRepository{client: client, opts: buildOptions(opts)}
}

func (r *AssociationRepository) hashKey(serverURL string) string {
	return r.opts.prefix + "assoc:" + serverURL
}

func (r *AssociationRepository) serversKey() string {
	return r.opts.prefix + "assoc-servers"
}

func (r *AssociationRepository) Save(ctx context.Context, assoc *socialauth.Association) error {
	raw, err := json.Marshal(associationRecord{
		Secret:    assoc.EncodedSecret(),
		Issued:    assoc.Issued,
		Lifetime:  assoc.Lifetime,
		AssocType: assoc.AssocType,
	})
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe rdb.Pipeliner) error {
		pipe.HSet(ctx, r.hashKey(assoc.ServerURL), assoc.Handle, raw)
		pipe.SAdd(ctx, r.serversKey(), assoc.ServerURL)
		return nil
	})
	return err
}

func (r *AssociationRepository) Get(ctx context.Context, serverURL, handle string) (*socialauth.Association, error) {
	raw, err := r.client.HGet(ctx, r.hashKey(serverURL), handle).Bytes()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return nil, socialauth.ErrNotFound
		}
		return nil, err
	}
	return decodeAssociation(serverURL, handle, raw)
}

func (r *AssociationRepository) ListByServer(ctx context.Context, serverURL string) ([]*socialauth.Association, error) {
	all, err := r.client.HGetAll(ctx, r.hashKey(serverURL)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*socialauth.Association, 0, len(all))
	for handle, raw := range all {
		assoc, err := decodeAssociation(serverURL, handle, []byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, assoc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Issued > out[j].Issued })
	return out, nil
}

func (r *AssociationRepository) Delete(ctx context.Context, serverURL, handle string) error {
	return r.client.HDel(ctx, r.hashKey(serverURL), handle).Err()
}

func (r *AssociationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	servers, err := r.client.SMembers(ctx, r.serversKey()).Result()
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, serverURL := range servers {
		list, err := r.ListByServer(ctx, serverURL)
		if err != nil {
			return removed, err
		}

		expired := make([]string, 0, len(list))
		for _, assoc := range list {
			if assoc.Expired(now) {
				expired = append(expired, assoc.Handle)
			}
		}
		if len(expired) > 0 {
			n, err := r.client.HDel(ctx, r.hashKey(serverURL), expired...).Result()
			if err != nil {
				return removed, err
			}
			removed += n
		}
		if len(list) == len(expired) {
			if err := r.client.SRem(ctx, r.serversKey(), serverURL).Err(); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

func decodeAssociation(serverURL, handle string, raw []byte) (*socialauth.Association, error) {
	var rec associationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, socialauth.MalformedData("association", err)
	}
	secret, err := socialauth.DecodeSecret(rec.Secret)
	if err != nil {
		return nil, err
	}
	return &socialauth.Association{
		ServerURL: serverURL,
		Handle:    handle,
		Secret:    secret,
		Issued:    rec.Issued,
		Lifetime:  rec.Lifetime,
		AssocType: rec.AssocType,
	}, nil
}
