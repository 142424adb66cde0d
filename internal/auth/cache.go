package auth

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachingDecoder memoizes successful decodes keyed by the token hash.
// Failures are never cached, and an entry is dropped once the token it came from expires.
type CachingDecoder struct {
	next  Decoder
	cache *expirable.LRU[string, *Claims]
	now   func() time.Time
}

// NewCachingDecoder wraps next with an LRU of at most size entries, each kept for ttl.
func NewCachingDecoder(next Decoder, size int, ttl time.Duration) *CachingDecoder {
	if size <= 0 {
		size = 1024
	}
	return &CachingDecoder{
		next:  next,
		cache: expirable.NewLRU[string, *Claims](size, nil, ttl),
		now:   time.Now,
	}
}

// Decode implements Decoder.
func (d *CachingDecoder) Decode(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, nil
	}

	key := HashToken(token)
	if claims, ok := d.cache.Get(key); ok {
		if !claims.Expired(d.now()) {
			return claims, nil
		}
		d.cache.Remove(key)
	}

	claims, err := d.next.Decode(ctx, token)
	if err != nil || claims == nil {
		return claims, err
	}

	if !claims.Expired(d.now()) {
		d.cache.Add(key, claims)
	}
	return claims, nil
}

// Len returns the number of cached entries.
func (d *CachingDecoder) Len() int {
	return d.cache.Len()
}
