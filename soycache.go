package chorus

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zoobzio/astql/postgres"
	"github.com/zoobzio/soy"
)

// cacheRecord is the persisted form of a cache entry.
type cacheRecord struct {
	Key       string    `db:"key" type:"text" constraints:"primarykey"`
	Value     string    `db:"value" type:"text" constraints:"notnull"`
	ExpiresAt time.Time `db:"expires_at" type:"timestamp"`
}

// SoyCache implements Cache using soy for Postgres persistence. Entries
// survive process restarts, so memoized stage output carries across runs of
// the host application.
//
// Expiry is evaluated lazily on read, the same as MemoryCache; expired rows
// are deleted when observed. soy reports row-not-found as an error, so
// lookup failures are indistinguishable from misses and are treated as
// misses, per the cache degradation policy.
type SoyCache struct {
	records *soy.Soy[cacheRecord]
	db      *sqlx.DB
}

// NewSoyCache creates a soy-backed Cache using the given database handle.
// The connection must be opened with the postgres driver (lib/pq).
func NewSoyCache(db *sqlx.DB) (*SoyCache, error) {
	records, err := soy.New[cacheRecord](db, "chorus_cache", postgres.New())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache table: %w", err)
	}

	return &SoyCache{
		records: records,
		db:      db,
	}, nil
}

// Get implements Cache.
func (c *SoyCache) Get(ctx context.Context, key string) (string, bool, error) {
	record, err := c.records.Select().
		Where("key", "=", "key").
		Exec(ctx, map[string]any{"key": key})
	if err != nil {
		return "", false, nil
	}

	if !record.ExpiresAt.IsZero() && time.Now().After(record.ExpiresAt) {
		// Lazy reclamation; a failed delete just leaves the row for later.
		_ = c.Delete(ctx, key)
		return "", false, nil
	}

	return record.Value, true, nil
}

// Set implements Cache. The previous entry for the key, if any, is replaced.
func (c *SoyCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	record := &cacheRecord{
		Key:   key,
		Value: value,
	}
	if ttl > 0 {
		record.ExpiresAt = time.Now().Add(ttl)
	}

	if err := c.Delete(ctx, key); err != nil {
		return err
	}

	if _, err := c.records.Insert().Exec(ctx, record); err != nil {
		return &CacheError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Delete implements Cache.
func (c *SoyCache) Delete(ctx context.Context, key string) error {
	_, err := c.records.Remove().
		Where("key", "=", "key").
		Exec(ctx, map[string]any{"key": key})
	if err != nil {
		return &CacheError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Exists implements Cache.
func (c *SoyCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

// Clear implements Cache.
func (c *SoyCache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM chorus_cache"); err != nil {
		return &CacheError{Op: "clear", Key: "*", Err: err}
	}
	return nil
}

// Close closes the underlying database connection.
func (c *SoyCache) Close() error {
	return c.db.Close()
}

var _ Cache = (*SoyCache)(nil)
