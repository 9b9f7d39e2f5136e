package business

import (
	"hash/maphash"
	"sync"
	"sync/atomic"
)

const (
	// poolShardCount must be a power of 2 for the mask in getShard.
	poolShardCount = 32
)

type poolShard struct {
	mu          sync.RWMutex
	connections map[string]Connection
}

// connectionPool is the connection registry: a sharded map from connection id
// to the live Connection. Sharding keeps lock contention low when many
// connections churn concurrently; size is tracked atomically for lock-free
// reads.
type connectionPool struct {
	shards      [poolShardCount]*poolShard
	hashSeed    maphash.Seed
	maxSize     int32
	currentSize int32 // atomic access
}

func newConnectionPool(maxSize int32) *connectionPool {
	pool := &connectionPool{
		maxSize:  maxSize,
		hashSeed: maphash.MakeSeed(),
	}

	const minShardCapacity = 16
	shardCapacity := int(maxSize) / poolShardCount
	if shardCapacity < minShardCapacity {
		shardCapacity = minShardCapacity
	}

	for i := range poolShardCount {
		pool.shards[i] = &poolShard{
			connections: make(map[string]Connection, shardCapacity),
		}
	}

	return pool
}

func (p *connectionPool) getShard(key string) *poolShard {
	h := maphash.String(p.hashSeed, key)
	return p.shards[h&(poolShardCount-1)]
}

// add registers a connection. Returns ErrConnectionPoolFull at capacity.
// An existing connection with the same id is left in place.
func (p *connectionPool) add(conn Connection) error {
	if atomic.LoadInt32(&p.currentSize) >= p.maxSize {
		return ErrConnectionPoolFull
	}

	key := conn.Metadata().Key()
	shard := p.getShard(key)

	shard.mu.Lock()
	if _, exists := shard.connections[key]; !exists {
		shard.connections[key] = conn
		atomic.AddInt32(&p.currentSize, 1)
	}
	shard.mu.Unlock()
	return nil
}

func (p *connectionPool) get(key string) (Connection, bool) {
	shard := p.getShard(key)

	shard.mu.RLock()
	conn, exists := shard.connections[key]
	shard.mu.RUnlock()
	return conn, exists
}

// remove deletes a connection and returns it, or nil if absent. Idempotent.
func (p *connectionPool) remove(key string) Connection {
	shard := p.getShard(key)

	shard.mu.Lock()
	conn, exists := shard.connections[key]
	if exists {
		delete(shard.connections, key)
		atomic.AddInt32(&p.currentSize, -1)
	}
	shard.mu.Unlock()
	return conn
}

func (p *connectionPool) size() int32 {
	return atomic.LoadInt32(&p.currentSize)
}

// forEach visits every connection. Each shard is snapshotted under its read
// lock first so fn never runs while a lock is held.
func (p *connectionPool) forEach(fn func(Connection)) {
	var allConns []Connection

	for i := range poolShardCount {
		shard := p.shards[i]
		shard.mu.RLock()
		for _, conn := range shard.connections {
			allConns = append(allConns, conn)
		}
		shard.mu.RUnlock()
	}

	for _, conn := range allConns {
		fn(conn)
	}
}
