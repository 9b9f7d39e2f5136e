package business

import "sync"

// identityMap binds connection ids to client-declared identities, O(1) in both
// directions. Bindings are last-write-wins: re-identifying from a new
// connection silently supersedes the old one. Used only for self-exclusion
// during broadcast, never for authorization.
type identityMap struct {
	mu       sync.RWMutex
	byConn   map[string]string
	byClient map[string]string
}

func newIdentityMap() *identityMap {
	return &identityMap{
		byConn:   make(map[string]string),
		byClient: make(map[string]string),
	}
}

// Bind records connID <-> clientID, overwriting any prior binding for either
// key so both directions stay consistent.
func (im *identityMap) Bind(connID, clientID string) {
	im.mu.Lock()
	defer im.mu.Unlock()

	if prevClient, ok := im.byConn[connID]; ok {
		delete(im.byClient, prevClient)
	}
	if prevConn, ok := im.byClient[clientID]; ok {
		delete(im.byConn, prevConn)
	}

	im.byConn[connID] = clientID
	im.byClient[clientID] = connID
}

// Unbind removes any binding for connID. No-op when absent.
func (im *identityMap) Unbind(connID string) {
	im.mu.Lock()
	defer im.mu.Unlock()

	clientID, ok := im.byConn[connID]
	if !ok {
		return
	}
	delete(im.byConn, connID)
	// Only clear the reverse entry if it still points at this connection;
	// a newer binding for the same client must survive.
	if im.byClient[clientID] == connID {
		delete(im.byClient, clientID)
	}
}

func (im *identityMap) ClientIDFor(connID string) (string, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	clientID, ok := im.byConn[connID]
	return clientID, ok
}

func (im *identityMap) ConnectionFor(clientID string) (string, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	connID, ok := im.byClient[clientID]
	return connID, ok
}
