package schema

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// MemoryItem is one long-term memory record. Hash changes iff Memory changes,
// which lets stores detect no-op updates and preserve CreatedAt.
type MemoryItem struct {
	ID        uint64  `json:"id"`
	Memory    string  `json:"memory"`
	Hash      string  `json:"hash"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
	Score     float32 `json:"score"`
}

// NewMemoryItem builds a record with fresh timestamps and an unset score.
func NewMemoryItem(id uint64, memory string) MemoryItem {
	now := time.Now().UnixNano()
	return MemoryItem{
		ID:        id,
		Memory:    memory,
		Hash:      ContentHash(memory),
		CreatedAt: now,
		UpdatedAt: now,
		Score:     -1,
	}
}

// Update replaces the memory text, recomputing hash and touch time.
func (m *MemoryItem) Update(memory string) {
	m.Memory = memory
	m.Hash = ContentHash(memory)
	m.UpdatedAt = time.Now().UnixNano()
}

// Empty reports whether the record holds no memory text.
func (m MemoryItem) Empty() bool { return m.Memory == "" }

// ContentHash digests memory text for change detection.
func ContentHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Filter excludes records from search and listing when it returns false.
type Filter func(MemoryItem) bool
