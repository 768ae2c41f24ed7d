package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/reagent-dev/reagent/pkg/schema"
)

const mongoCloseTimeout = 5 * time.Second

// MongoStore persists memory records in MongoDB. Embeddings are stored
// alongside each document and distances are computed client side, which keeps
// the store free of any server-side vector index requirement.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	dim        int
	metric     Metric
}

// NewMongoStore connects to MongoDB and pings the deployment before use.
func NewMongoStore(ctx context.Context, opts Options) (*MongoStore, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.URI) == "" {
		return nil, fmt.Errorf("%w: mongo uri is required", ErrInvalid)
	}
	database := opts.Database
	if database == "" {
		database = "reagent"
	}
	collection := opts.Collection
	if collection == "" {
		collection = "memory_items"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		dim:        opts.Dim,
		metric:     opts.Metric,
	}, nil
}

type mongoDocument struct {
	ID        int64     `bson:"_id"`
	Memory    string    `bson:"memory"`
	Hash      string    `bson:"hash"`
	CreatedAt int64     `bson:"created_at"`
	UpdatedAt int64     `bson:"updated_at"`
	Embedding []float64 `bson:"embedding"`
}

func (doc mongoDocument) toItem() schema.MemoryItem {
	return schema.MemoryItem{
		ID:        uint64(doc.ID),
		Memory:    doc.Memory,
		Hash:      doc.Hash,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
		Score:     -1,
	}
}

func float64Embedding(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

func (ms *MongoStore) distance(a []float64, b []float32) float32 {
	if ms.metric == MetricIP {
		var dot, na, nb float64
		for i := range b {
			dot += a[i] * float64(b[i])
			na += a[i] * a[i]
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 1
		}
		return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
	}
	var sum float64
	for i := range b {
		d := a[i] - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

func (ms *MongoStore) Insert(ctx context.Context, vector []float32, id uint64, item schema.MemoryItem) error {
	if len(vector) != ms.dim {
		return fmt.Errorf("%w: vector has dim %d, store expects %d", ErrInvalid, len(vector), ms.dim)
	}
	now := time.Now().UnixNano()
	if item.CreatedAt == 0 {
		item.CreatedAt = now
	}
	if item.UpdatedAt == 0 {
		item.UpdatedAt = now
	}
	doc := mongoDocument{
		ID:        int64(id),
		Memory:    item.Memory,
		Hash:      item.Hash,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
		Embedding: float64Embedding(vector),
	}
	opts := options.Replace().SetUpsert(true)
	_, err := ms.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts)
	return err
}

func (ms *MongoStore) Search(ctx context.Context, query []float32, limit int, filter schema.Filter) ([]schema.MemoryItem, error) {
	if len(query) != ms.dim {
		return nil, fmt.Errorf("%w: query has dim %d, store expects %d", ErrInvalid, len(query), ms.dim)
	}
	cursor, err := ms.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var items []schema.MemoryItem
	for cursor.Next(ctx) {
		var doc mongoDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		if len(doc.Embedding) != ms.dim {
			continue
		}
		item := doc.toItem()
		if filter != nil && !filter(item) {
			continue
		}
		item.Score = ms.distance(doc.Embedding, query)
		items = append(items, item)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Score < items[j].Score })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (ms *MongoStore) Remove(ctx context.Context, id uint64) error {
	res, err := ms.collection.DeleteOne(ctx, bson.M{"_id": int64(id)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func (ms *MongoStore) Update(ctx context.Context, id uint64, vector []float32, item *schema.MemoryItem) error {
	current, err := ms.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UnixNano()
	set := bson.M{"updated_at": now}
	if item != nil {
		createdAt := now
		if item.Hash == current.Hash {
			createdAt = current.CreatedAt
		}
		set["memory"] = item.Memory
		set["hash"] = item.Hash
		set["created_at"] = createdAt
	}
	if vector != nil {
		if len(vector) != ms.dim {
			return fmt.Errorf("%w: vector has dim %d, store expects %d", ErrInvalid, len(vector), ms.dim)
		}
		set["embedding"] = float64Embedding(vector)
	}
	_, err = ms.collection.UpdateByID(ctx, int64(id), bson.M{"$set": set})
	return err
}

func (ms *MongoStore) Get(ctx context.Context, id uint64) (schema.MemoryItem, error) {
	var doc mongoDocument
	err := ms.collection.FindOne(ctx, bson.M{"_id": int64(id)}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return schema.MemoryItem{}, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return schema.MemoryItem{}, err
	}
	return doc.toItem(), nil
}

func (ms *MongoStore) List(ctx context.Context, limit int, filter schema.Filter) ([]schema.MemoryItem, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := ms.collection.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var items []schema.MemoryItem
	for cursor.Next(ctx) {
		var doc mongoDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		item := doc.toItem()
		if filter != nil && !filter(item) {
			continue
		}
		items = append(items, item)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, cursor.Err()
}

// Close releases the underlying MongoDB client.
func (ms *MongoStore) Close() error {
	if ms == nil || ms.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}
