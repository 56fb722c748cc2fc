// Package cache provides the validated host record cache of the resolver.
package cache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// keyBuffer holds a reusable buffer for key generation.
type keyBuffer struct {
	buf [256]byte
}

var keyBufferPool = sync.Pool{
	New: func() any {
		return new(keyBuffer)
	},
}

// Key returns the name index key of a domain name. Names are lower-cased
// and a trailing dot is implied, so "Host.Example" and "host.example." share
// a key.
func Key(name string) uint64 {
	kb := keyBufferPool.Get().(*keyBuffer)
	buf := kb.buf[:0]

	nameLen := len(name)
	if nameLen+1 > len(kb.buf) {
		// longer than any valid domain name, fall back to the heap
		buf = make([]byte, 0, nameLen+1)
	}

	for i := 0; i < nameLen; i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		buf = append(buf, c)
	}

	if nameLen == 0 || name[nameLen-1] != '.' {
		buf = append(buf, '.')
	}

	hash := xxhash.Sum64(buf)

	keyBufferPool.Put(kb)

	return hash
}
