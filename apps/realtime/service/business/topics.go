package business

import "sync"

// topicRegistry is the topic subscription index: topic name to the set of
// connection ids currently subscribed. It holds ids only, never connections;
// the pool remains the sole owner of connection lifetimes.
//
// A single RWMutex guards the whole index. Topic and connection cardinality is
// low enough that sharding buys nothing here.
type topicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]struct{}
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{
		topics: make(map[string]map[string]struct{}),
	}
}

// Subscribe adds connID to the topic's subscriber set. Idempotent.
func (tr *topicRegistry) Subscribe(topic, connID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subscribers, ok := tr.topics[topic]
	if !ok {
		subscribers = make(map[string]struct{})
		tr.topics[topic] = subscribers
	}
	subscribers[connID] = struct{}{}
}

// Unsubscribe removes connID from the topic. No-op when either is absent.
func (tr *topicRegistry) Unsubscribe(topic, connID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subscribers, ok := tr.topics[topic]
	if !ok {
		return
	}
	delete(subscribers, connID)
	if len(subscribers) == 0 {
		delete(tr.topics, topic)
	}
}

// Subscribers returns a snapshot of the topic's subscriber ids, safe to
// iterate while the index mutates concurrently.
func (tr *topicRegistry) Subscribers(topic string) []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	subscribers, ok := tr.topics[topic]
	if !ok {
		return nil
	}

	snapshot := make([]string, 0, len(subscribers))
	for connID := range subscribers {
		snapshot = append(snapshot, connID)
	}
	return snapshot
}

// RemoveConnection removes connID from every topic. Called on connection
// teardown so a closed connection never lingers in any subscriber set.
func (tr *topicRegistry) RemoveConnection(connID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for topic, subscribers := range tr.topics {
		delete(subscribers, connID)
		if len(subscribers) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// TopicCount returns the number of topics with at least one subscriber.
func (tr *topicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}
