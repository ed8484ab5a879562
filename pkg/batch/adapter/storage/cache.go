package storage

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// ConnectionCache holds the open connections of one provider, keyed by connection name.
type ConnectionCache struct {
	mu          sync.RWMutex
	connections map[string]StorageConnection
}

// NewConnectionCache creates an empty ConnectionCache.
func NewConnectionCache() *ConnectionCache {
	return &ConnectionCache{connections: make(map[string]StorageConnection)}
}

// GetOrCreate returns the cached connection for name, calling create at most once per name.
func (c *ConnectionCache) GetOrCreate(name string, create func() (StorageConnection, error)) (StorageConnection, error) {
	c.mu.RLock()
	conn, ok := c.connections[name]
	c.mu.RUnlock()
	if ok {
		return conn, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.connections[name]; ok {
		return conn, nil
	}
	conn, err := create()
	if err != nil {
		return nil, err
	}
	c.connections[name] = conn
	return conn, nil
}

// CloseAll closes and forgets every cached connection.
func (c *ConnectionCache) CloseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result *multierror.Error
	for name, conn := range c.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close storage connection '%s': %w", name, err))
		}
		delete(c.connections, name)
	}
	return result.ErrorOrNil()
}
