package server

import (
	"net/netip"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const limiterCacheSize = 256 * 100

// limiter throttles new connections per client address.
type limiter struct {
	cache *lru.Cache[uint64, *rate.Limiter]

	rate  rate.Limit
	burst int
}

func newLimiter(perSecond float64, burst int) *limiter {
	if perSecond <= 0 {
		return nil
	}

	if burst <= 0 {
		burst = 1
	}

	cache, err := lru.New[uint64, *rate.Limiter](limiterCacheSize)
	if err != nil {
		panic(err)
	}

	return &limiter{cache: cache, rate: rate.Limit(perSecond), burst: burst}
}

// Allow reports whether addr may open another connection. A nil limiter
// allows everything.
func (l *limiter) Allow(addr netip.Addr) bool {
	if l == nil || addr.IsLoopback() {
		return true
	}

	b := addr.Unmap().As16()
	key := xxhash.Sum64(b[:])

	rl, ok := l.cache.Get(key)
	if !ok {
		rl = rate.NewLimiter(l.rate, l.burst)
		if prev, found, _ := l.cache.PeekOrAdd(key, rl); found {
			rl = prev
		}
	}

	return rl.Allow()
}
