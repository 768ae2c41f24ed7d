// Package vectorstore provides approximate-nearest-neighbor storage for
// long-term memory records. The default provider keeps everything in process
// behind an HNSW index; postgres (pgvector) and mongo providers persist the
// same contract against external services.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/reagent-dev/reagent/pkg/schema"
)

var (
	// ErrNotFound indicates the requested id is absent from the store.
	ErrNotFound = errors.New("vectorstore: id not found")
	// ErrInvalid indicates malformed input such as a dimension mismatch.
	ErrInvalid = errors.New("vectorstore: invalid argument")
)

// Metric selects the distance function used by a store.
type Metric string

const (
	MetricL2 Metric = "L2"
	MetricIP Metric = "IP"
)

// Options configure a store at construction. Provider-specific fields are
// ignored by the others.
type Options struct {
	Provider       string
	Dim            int
	MaxElements    int
	M              int
	EfConstruction int
	Metric         Metric

	// Postgres
	ConnString string
	Table      string

	// Mongo
	URI        string
	Database   string
	Collection string
}

func (o *Options) normalize() error {
	if o.Dim <= 0 {
		return fmt.Errorf("%w: dim must be positive", ErrInvalid)
	}
	if o.MaxElements <= 0 {
		o.MaxElements = 100
	}
	if o.M <= 0 {
		o.M = 16
	}
	if o.EfConstruction <= 0 {
		o.EfConstruction = 100
	}
	switch o.Metric {
	case MetricL2, MetricIP:
	case "":
		o.Metric = MetricL2
	default:
		return fmt.Errorf("%w: unknown metric %q", ErrInvalid, o.Metric)
	}
	return nil
}

// Store is the vector store contract consumed by the memory layer.
type Store interface {
	Insert(ctx context.Context, vector []float32, id uint64, item schema.MemoryItem) error
	Search(ctx context.Context, query []float32, limit int, filter schema.Filter) ([]schema.MemoryItem, error)
	Remove(ctx context.Context, id uint64) error
	Update(ctx context.Context, id uint64, vector []float32, item *schema.MemoryItem) error
	Get(ctx context.Context, id uint64) (schema.MemoryItem, error)
	List(ctx context.Context, limit int, filter schema.Filter) ([]schema.MemoryItem, error)
	Close() error
}

// New builds a store for the configured provider.
func New(ctx context.Context, opts Options) (Store, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "hnswlib":
		return NewHNSWStore(opts)
	case "postgres":
		return NewPostgresStore(ctx, opts)
	case "mongo":
		return NewMongoStore(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalid, opts.Provider)
	}
}

// ----------------------------------------------------------------------------
// Named registry

var (
	registryMu sync.RWMutex
	registry   = map[string]Store{}
)

// Lookup returns the named store if it has been registered.
func Lookup(name string) (Store, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	store, ok := registry[name]
	return store, ok
}

// Register installs a named store, replacing any previous holder.
func Register(name string, store Store) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = store
}

// GetInstance returns the named store, constructing it from opts on first
// request.
func GetInstance(ctx context.Context, name string, opts Options) (Store, error) {
	if store, ok := Lookup(name); ok {
		return store, nil
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if store, ok := registry[name]; ok {
		return store, nil
	}
	store, err := New(ctx, opts)
	if err != nil {
		return nil, err
	}
	registry[name] = store
	return store, nil
}
