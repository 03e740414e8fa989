package storage

import "sync"

// Catalog remembers the specs a backend has ensured, so inserts can convert
// cells to the declared column types.
type Catalog struct {
	mu    sync.RWMutex
	specs map[string]TableSpec
}

// Put records spec under its name.
func (c *Catalog) Put(spec TableSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.specs == nil {
		c.specs = make(map[string]TableSpec)
	}
	c.specs[spec.Name] = spec
}

// Get returns the spec for table. An unknown table yields a spec with only
// the name set, which converts nothing.
func (c *Catalog) Get(table string) TableSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.specs[table]; ok {
		return s
	}
	return TableSpec{Name: table}
}
