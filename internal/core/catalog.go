package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// HashLength is how many characters of the content hash appear in URLs.
const HashLength = 7

// Database is one attached database. Hash is the hex digest of the current
// snapshot and is empty for mutable databases. It is set once at startup
// and only read afterwards.
type Database struct {
	Name    string
	Hash    string
	Mutable bool
	Path    string // backing file, empty when the database is not file-based
	Engine  Engine
	Writes  *WriteQueue
}

// ShortHash returns the URL form of the content hash, or "" when unhashed.
func (d *Database) ShortHash() string {
	if len(d.Hash) < HashLength {
		return d.Hash
	}
	return d.Hash[:HashLength]
}

// Write applies a statement through the database's write queue.
func (d *Database) Write(ctx context.Context, sql string, params map[string]any) (Acknowledgment, error) {
	if d.Writes == nil {
		return Acknowledgment{Database: d.Name}, fmt.Errorf("attempt to write a readonly database: %s", d.Name)
	}
	return d.Writes.Execute(ctx, sql, params)
}

// Catalog holds the attached databases in registration order.
type Catalog struct {
	mu        sync.RWMutex
	databases map[string]*Database
	order     []string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{databases: make(map[string]*Database)}
}

// Register adds a database. Mutable databases get a write queue if they
// do not already have one.
func (c *Catalog) Register(db *Database) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if db.Name == "" {
		return errors.New("database name is required")
	}
	if _, exists := c.databases[db.Name]; exists {
		return fmt.Errorf("database already registered: %s", db.Name)
	}
	if db.Mutable {
		db.Hash = ""
		if db.Writes == nil && db.Engine != nil {
			db.Writes = NewWriteQueue(db.Name, db.Engine.ExecuteWrite)
		}
	}

	c.databases[db.Name] = db
	c.order = append(c.order, db.Name)
	return nil
}

// Get returns a database by name.
func (c *Catalog) Get(name string) (*Database, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	db, ok := c.databases[name]
	return db, ok
}

// All returns every database in registration order.
func (c *Catalog) All() []*Database {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Database, 0, len(c.order))
	for _, name := range c.order {
		result = append(result, c.databases[name])
	}
	return result
}

// Len returns the number of attached databases.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.databases)
}

// Close stops write queues and closes engines.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, name := range c.order {
		db := c.databases[name]
		if db.Writes != nil {
			db.Writes.Close()
		}
		if db.Engine != nil {
			if err := db.Engine.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
