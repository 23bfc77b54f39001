package db

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

// TableProbe answers whether a table exists in the connected schema. A
// positive answer is cached for the process lifetime; a negative answer is
// re-checked on the next call so a later migration is picked up without a
// restart.
type TableProbe struct {
	mu     sync.Mutex
	known  map[string]bool
	lookup func(ctx context.Context, table string) (bool, error)
}

// NewTableProbe builds a probe backed by the given GORM connection.
func NewTableProbe(conn *gorm.DB) *TableProbe {
	return &TableProbe{
		known: map[string]bool{},
		lookup: func(ctx context.Context, table string) (bool, error) {
			var count int64
			err := conn.WithContext(ctx).
				Raw(`SELECT COUNT(1) FROM information_schema.tables WHERE table_name = ?`, table).
				Scan(&count).Error
			if err != nil {
				return false, err
			}
			return count > 0, nil
		},
	}
}

// NewTableProbeFunc builds a probe with a custom lookup, used in tests.
func NewTableProbeFunc(lookup func(ctx context.Context, table string) (bool, error)) *TableProbe {
	return &TableProbe{known: map[string]bool{}, lookup: lookup}
}

// Exists reports whether the table is present.
func (p *TableProbe) Exists(ctx context.Context, table string) (bool, error) {
	p.mu.Lock()
	if p.known[table] {
		p.mu.Unlock()
		return true, nil
	}
	p.mu.Unlock()

	exists, err := p.lookup(ctx, table)
	if err != nil {
		return false, err
	}
	if exists {
		p.mu.Lock()
		p.known[table] = true
		p.mu.Unlock()
	}
	return exists, nil
}
