package db

import (
	"context"
	"ctrlv/pkg/domain"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const mongoColPastes = "pastes"

// Mongo stores pastes in one collection keyed by _id. The TTL index only
// reclaims space lazily; every read still filters on expiresAt.
type Mongo struct {
	client  *mongo.Client
	col     *mongo.Collection
	timeout time.Duration
}

func NewMongo(ctx context.Context, uri, database string, timeout time.Duration) (*Mongo, error) {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(timeout).
		SetConnectTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongo")
	}
	m := &Mongo{
		client:  client,
		col:     client.Database(database).Collection(mongoColPastes),
		timeout: timeout,
	}
	if err := m.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ensure indexes")
	}
	return m, nil
}
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err := m.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "customUrl", Value: 1}},
			Options: options.Index().
				SetName("customUrl_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"customUrl": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "isPrivate", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("isPrivate_createdAt"),
		},
		{
			Keys:    bson.D{{Key: "title", Value: "text"}, {Key: "content", Value: "text"}},
			Options: options.Index().SetName("title_content_text"),
		},
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetName("expiresAt_ttl").SetExpireAfterSeconds(0),
		},
	})
	return err
}
func visibleFilter(now time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"expiresAt": nil},
		bson.M{"expiresAt": bson.M{"$gt": now}},
	}}
}

// Insert relies on the partial unique index for the slug claim. Removing an
// expired holder first is idempotent, so racing claimants still see exactly
// one winner.
func (m *Mongo) Insert(ctx context.Context, p *domain.Paste, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	p.CreatedAt = p.CreatedAt.Truncate(time.Millisecond)
	if p.ExpiresAt != nil {
		at := p.ExpiresAt.Truncate(time.Millisecond)
		p.ExpiresAt = &at
	}
	if p.CustomURL != "" {
		if _, err := m.col.DeleteOne(ctx, bson.M{
			"customUrl": p.CustomURL,
			"expiresAt": bson.M{"$lte": now},
		}); err != nil {
			return errors.Wrap(err, "release expired slug")
		}
	}
	_, err := m.col.InsertOne(ctx, p)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateSlug
	}
	return errors.Wrap(err, "mongo insert")
}
func (m *Mongo) IncrViews(ctx context.Context, key string, now time.Time) (*domain.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	update := bson.M{"$inc": bson.M{"views": 1}}
	for _, field := range []string{"_id", "customUrl"} {
		filter := bson.M{field: key, "$and": bson.A{visibleFilter(now)}}
		p := &domain.Paste{}
		err := m.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(p)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "mongo incr views")
		}
		return p, nil
	}
	return nil, domain.ErrPasteNotFound
}
func (m *Mongo) find(ctx context.Context, op string, filter bson.M, limit int) ([]domain.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := m.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	defer cur.Close(ctx)
	out := []domain.Paste{}
	for cur.Next(ctx) {
		var p domain.Paste
		if err := cur.Decode(&p); err != nil {
			return nil, errors.Wrap(err, "decode paste")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(cur.Err(), op)
}
func (m *Mongo) List(ctx context.Context, now time.Time) ([]domain.Paste, error) {
	return m.find(ctx, "mongo list", visibleFilter(now), 0)
}
func (m *Mongo) ListPublic(ctx context.Context, now time.Time, limit int) ([]domain.Paste, error) {
	filter := bson.M{"isPrivate": false, "$and": bson.A{visibleFilter(now)}}
	return m.find(ctx, "mongo list public", filter, limit)
}

// Search matches the query literally, ignoring case, in title or content.
func (m *Mongo) Search(ctx context.Context, params domain.SearchParams, now time.Time, limit int) ([]domain.Paste, error) {
	re := primitive.Regex{Pattern: regexp.QuoteMeta(strings.TrimSpace(params.Query)), Options: "i"}
	filter := bson.M{
		"isPrivate": false,
		"$and": bson.A{
			visibleFilter(now),
			bson.M{"$or": bson.A{
				bson.M{"title": bson.M{"$regex": re}},
				bson.M{"content": bson.M{"$regex": re}},
			}},
		},
	}
	if params.Language != "" {
		filter["syntaxLanguage"] = params.Language
	}
	return m.find(ctx, "mongo search", filter, limit)
}
func (m *Mongo) Delete(ctx context.Context, id string, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	var p domain.Paste
	err := m.col.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrPasteNotFound
	}
	if err != nil {
		return errors.Wrap(err, "mongo delete")
	}
	if !p.Visible(now) {
		return domain.ErrPasteNotFound
	}
	return nil
}
func (m *Mongo) PurgeExpired(ctx context.Context, now time.Time, batch int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetLimit(int64(batch))
	cur, err := m.col.Find(ctx, bson.M{"expiresAt": bson.M{"$lte": now}}, opts)
	if err != nil {
		return 0, errors.Wrap(err, "find expired")
	}
	var ids []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &ids); err != nil {
		return 0, errors.Wrap(err, "decode expired ids")
	}
	if len(ids) == 0 {
		return 0, nil
	}
	in := make(bson.A, 0, len(ids))
	for _, d := range ids {
		in = append(in, d.ID)
	}
	res, err := m.col.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": in}, "expiresAt": bson.M{"$lte": now}})
	if err != nil {
		return 0, errors.Wrap(err, "purge batch failed")
	}
	return int(res.DeletedCount), nil
}
func (m *Mongo) DeleteAll(ctx context.Context) (int, error) {
	res, err := m.col.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, errors.Wrap(err, "delete all")
	}
	return int(res.DeletedCount), nil
}
func (m *Mongo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.client.Ping(ctx, readpref.Primary())
}
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
