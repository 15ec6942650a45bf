// Package cache implements C11: the three caches spec.md §4.7's main
// loop consults every block — a guest-physical-PC-keyed block cache, a
// guest-virtual-PC-keyed chain cache of translation entry points, and
// a guest-virtual-PC-keyed virtual-to-physical-PC cache — grounded on
// brig/kernel/src/host/dbt/models.rs's block_exec loop and its
// DirectMappedCache helper type.
package cache

import (
	"github.com/corvid-dbt/corvid/internal/translation"
)

// ChainCacheEntries is spec.md §4.7's jump-table chain cache size,
// grounded on models.rs's CHAIN_CACHE_ENTRY_COUNT = 65536 (also
// required to be a power of two there).
const ChainCacheEntries = 65536

// VirtPhysCacheEntries is the virtual-to-physical PC cache size,
// grounded on models.rs's `DirectMappedCache::<1024, u64>` for its
// `translation_cache`.
const VirtPhysCacheEntries = 1024

type dmEntry[V any] struct {
	key   uint64
	value V
	valid bool
}

// DirectMappedCache is a fixed-size, power-of-two, direct-mapped
// cache keyed by a guest address, grounded on models.rs's
// DirectMappedCache<const N: usize, V>. Index is `(key >> 2) & (N-1)`,
// matching the original's instruction-alignment-aware shift. Unlike
// the original, which invalidates by overwriting every entry's key
// field with a caller-supplied sentinel (meaning a real key
// coincidentally equal to that sentinel would false-positive-hit), Go
// entries carry an explicit `valid` bit, so Reset can never collide
// with a real address.
type DirectMappedCache[V any] struct {
	entries []dmEntry[V]
	mask    uint64
}

// NewDirectMappedCache allocates a cache with size entries, which must
// be a power of two.
func NewDirectMappedCache[V any](size int) *DirectMappedCache[V] {
	if size <= 0 || size&(size-1) != 0 {
		panic("cache: size must be a positive power of two")
	}
	return &DirectMappedCache[V]{
		entries: make([]dmEntry[V], size),
		mask:    uint64(size - 1),
	}
}

func (c *DirectMappedCache[V]) index(key uint64) uint64 {
	return (key >> 2) & c.mask
}

// Insert records value under key, evicting whatever previously mapped
// to the same slot.
func (c *DirectMappedCache[V]) Insert(key uint64, value V) {
	c.entries[c.index(key)] = dmEntry[V]{key: key, value: value, valid: true}
}

// Get returns the value for key, or (zero, false) on a miss — either
// an empty slot or one occupied by a different key (a collision, not
// an error; the caller re-derives and re-inserts).
func (c *DirectMappedCache[V]) Get(key uint64) (V, bool) {
	e := &c.entries[c.index(key)]
	if e.valid && e.key == key {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Reset invalidates every entry — spec.md §4.7 step 5's "invalidate
// the chain cache [and] the virt→phys cache" on a guest TLB
// invalidation.
func (c *DirectMappedCache[V]) Reset() {
	for i := range c.entries {
		c.entries[i] = dmEntry[V]{}
	}
}

// TranslatedBlock is one block cache entry: the executable code plus
// enough of the original guest instruction stream to drive
// instruction-retirement accounting, mirroring models.rs's
// TranslatedBlock{translation, opcodes}.
type TranslatedBlock struct {
	Translation *translation.Translation
	Opcodes     []uint32
}

// BlockCache maps a guest physical PC to its translated block.
// Per spec.md §5, a BlockCache belongs to exactly one core's
// translate-execute loop and is never shared, so it does no internal
// locking.
type BlockCache struct {
	blocks map[uint64]*TranslatedBlock
}

func NewBlockCache() *BlockCache {
	return &BlockCache{blocks: make(map[uint64]*TranslatedBlock)}
}

func (c *BlockCache) Get(physicalPC uint64) (*TranslatedBlock, bool) {
	b, ok := c.blocks[physicalPC]
	return b, ok
}

func (c *BlockCache) Insert(physicalPC uint64, b *TranslatedBlock) {
	c.blocks[physicalPC] = b
}

// Invalidate drops every cached block — spec.md §4.7 step 5, triggered
// by a guest TLB invalidation (a physical PC's meaning can change
// underneath a cached translation).
func (c *BlockCache) Invalidate() {
	c.blocks = make(map[uint64]*TranslatedBlock)
}

// Len reports how many blocks are currently cached, for harness
// diagnostics.
func (c *BlockCache) Len() int { return len(c.blocks) }
