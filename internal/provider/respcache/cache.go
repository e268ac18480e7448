// Package respcache is a short-TTL, msgpack-encoded cache of raw provider
// responses keyed by (provider, capability, args hash), generalizing the
// teacher's clientdata.Repository stale-cache-as-fallback pattern to every
// provider capability: an outage degrades to stale data instead of a hard
// failure, matching original_source's fallback_adapter.py.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/quantloop/refreshengine/internal/database"
)

// Cache stores and retrieves raw (pre-normalization) provider payloads.
type Cache struct {
	db *database.DB
}

// New wraps an already-migrated respcache database.
func New(db *database.DB) *Cache {
	return &Cache{db: db}
}

// Key derives a stable cache key from a provider, capability and argument
// set (e.g. symbol, period).
func Key(providerName, capability string, args ...string) string {
	h := sha256.New()
	h.Write([]byte(providerName))
	h.Write([]byte(capability))
	for _, a := range args {
		h.Write([]byte{0})
		h.Write([]byte(a))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Store persists payload under key with the given TTL.
func (c *Cache) Store(ctx context.Context, providerName, capability, key string, payload any, ttl time.Duration) error {
	buf, err := msgpack.Marshal(payload)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = c.db.Conn().ExecContext(ctx, `
		INSERT INTO provider_response_cache (cache_key, provider, capability, payload, stored_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = excluded.payload, stored_at = excluded.stored_at, expires_at = excluded.expires_at`,
		key, providerName, capability, buf, now.Format(time.RFC3339), now.Add(ttl).Format(time.RFC3339))
	return err
}

// GetFresh returns the cached payload only if not yet expired.
func (c *Cache) GetFresh(ctx context.Context, key string, out any) (bool, error) {
	return c.get(ctx, key, out, true)
}

// GetStale returns the cached payload regardless of expiry — used as a
// last-resort fallback when every provider fails.
func (c *Cache) GetStale(ctx context.Context, key string, out any) (bool, error) {
	return c.get(ctx, key, out, false)
}

func (c *Cache) get(ctx context.Context, key string, out any, freshOnly bool) (bool, error) {
	query := `SELECT payload, expires_at FROM provider_response_cache WHERE cache_key = ?`
	row := c.db.Conn().QueryRowContext(ctx, query, key)

	var payload []byte
	var expiresAt string
	if err := row.Scan(&payload, &expiresAt); err != nil {
		return false, nil //nolint:nilerr // cache miss is not an error
	}

	if freshOnly {
		expiry, err := time.Parse(time.RFC3339, expiresAt)
		if err != nil || time.Now().UTC().After(expiry) {
			return false, nil
		}
	}

	if err := msgpack.Unmarshal(payload, out); err != nil {
		return false, err
	}
	return true, nil
}

// PurgeExpired removes every row past its expiry, mirroring the teacher's
// clientdata cleanup job.
func (c *Cache) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := c.db.Conn().ExecContext(ctx,
		`DELETE FROM provider_response_cache WHERE expires_at < ?`, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
