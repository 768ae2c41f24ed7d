package vectorstore

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/reagent-dev/reagent/pkg/schema"
)

// HNSWStore keeps vectors in an in-process hierarchical small-world graph and
// metadata in an LRU list. When the element cap is reached the least recently
// touched record is evicted, index point included.
type HNSWStore struct {
	mu    sync.Mutex
	graph *hnsw.Graph[uint64]
	dist  hnsw.DistanceFunc

	order *list.List
	nodes map[uint64]*list.Element

	dim         int
	maxElements int
}

// NewHNSWStore builds the in-process store from the given options.
func NewHNSWStore(opts Options) (*HNSWStore, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	dist := hnsw.EuclideanDistance
	if opts.Metric == MetricIP {
		dist = hnsw.CosineDistance
	}
	graph := hnsw.NewGraph[uint64]()
	graph.M = opts.M
	graph.EfSearch = opts.EfConstruction
	graph.Distance = dist
	return &HNSWStore{
		graph:       graph,
		dist:        dist,
		order:       list.New(),
		nodes:       make(map[uint64]*list.Element),
		dim:         opts.Dim,
		maxElements: opts.MaxElements,
	}, nil
}

func (s *HNSWStore) Insert(ctx context.Context, vector []float32, id uint64, item schema.MemoryItem) error {
	if len(vector) != s.dim {
		return fmt.Errorf("%w: vector has dim %d, store expects %d", ErrInvalid, len(vector), s.dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[id]; !exists && s.order.Len() >= s.maxElements {
		s.evictOldestLocked()
	}

	now := time.Now().UnixNano()
	if item.CreatedAt == 0 {
		item.CreatedAt = now
	}
	if item.UpdatedAt == 0 {
		item.UpdatedAt = now
	}
	item.ID = id

	s.graph.Add(hnsw.MakeNode(id, vector))
	if elem, exists := s.nodes[id]; exists {
		elem.Value = item
		s.order.MoveToFront(elem)
		return nil
	}
	s.nodes[id] = s.order.PushFront(item)
	return nil
}

func (s *HNSWStore) Search(ctx context.Context, query []float32, limit int, filter schema.Filter) ([]schema.MemoryItem, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has dim %d, store expects %d", ErrInvalid, len(query), s.dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := limit
	if filter != nil {
		k = s.order.Len()
	}
	if k <= 0 {
		return nil, nil
	}

	neighbors := s.graph.Search(query, k)
	results := make([]schema.MemoryItem, 0, limit)
	for _, node := range neighbors {
		elem, ok := s.nodes[node.Key]
		if !ok {
			continue
		}
		item := elem.Value.(schema.MemoryItem)
		if filter != nil && !filter(item) {
			continue
		}
		item.Score = s.dist(node.Value, query)
		results = append(results, item)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (s *HNSWStore) Remove(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	s.graph.Delete(id)
	s.order.Remove(elem)
	delete(s.nodes, id)
	return nil
}

func (s *HNSWStore) Update(ctx context.Context, id uint64, vector []float32, item *schema.MemoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if vector != nil {
		if len(vector) != s.dim {
			return fmt.Errorf("%w: vector has dim %d, store expects %d", ErrInvalid, len(vector), s.dim)
		}
		s.graph.Delete(id)
		s.graph.Add(hnsw.MakeNode(id, vector))
	}
	current := elem.Value.(schema.MemoryItem)
	now := time.Now().UnixNano()
	if item != nil {
		next := *item
		next.ID = id
		if next.Hash == current.Hash {
			next.CreatedAt = current.CreatedAt
		} else {
			next.CreatedAt = now
		}
		next.UpdatedAt = now
		elem.Value = next
	} else {
		current.UpdatedAt = now
		elem.Value = current
	}
	s.order.MoveToFront(elem)
	return nil
}

func (s *HNSWStore) Get(ctx context.Context, id uint64) (schema.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.nodes[id]
	if !ok {
		return schema.MemoryItem{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	s.order.MoveToFront(elem)
	return elem.Value.(schema.MemoryItem), nil
}

func (s *HNSWStore) List(ctx context.Context, limit int, filter schema.Filter) ([]schema.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []schema.MemoryItem
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		item := elem.Value.(schema.MemoryItem)
		if filter != nil && !filter(item) {
			continue
		}
		items = append(items, item)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

func (s *HNSWStore) Close() error { return nil }

func (s *HNSWStore) evictOldestLocked() {
	back := s.order.Back()
	if back == nil {
		return
	}
	item := back.Value.(schema.MemoryItem)
	s.graph.Delete(item.ID)
	s.order.Remove(back)
	delete(s.nodes, item.ID)
}
