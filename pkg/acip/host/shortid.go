package host

import (
	"sync"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

// PoolSize is the number of reusable short ids a star-topology host hands
// out.
const PoolSize = 32

// ShortIDPool is a mutex-protected ring of reusable per-client short ids.
type ShortIDPool struct {
	mu   sync.Mutex
	free []uint32
	used map[uint32]bool
}

// NewShortIDPool builds a pool with ids [0, PoolSize).
func NewShortIDPool() *ShortIDPool {
	p := &ShortIDPool{used: make(map[uint32]bool, PoolSize)}
	for i := uint32(0); i < PoolSize; i++ {
		p.free = append(p.free, i)
	}
	return p
}

// Acquire hands out the next available short id.
func (p *ShortIDPool) Acquire() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return 0, acerr.New(acerr.Exhausted, "short id pool exhausted")
	}
	id := p.free[0]
	p.free = p.free[1:]
	p.used[id] = true
	return id, nil
}

// Release returns id to the pool so it can be reused. Idempotent:
// releasing an id not currently held is a no-op.
func (p *ShortIDPool) Release(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.used[id] {
		return
	}
	delete(p.used, id)
	p.free = append(p.free, id)
}

// InUse reports how many ids are currently held.
func (p *ShortIDPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}
