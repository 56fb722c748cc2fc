package cache

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{"identical", "example.com.", "example.com.", true},
		{"case insensitive", "EXAMPLE.com.", "example.COM.", true},
		{"implied root", "example.com", "example.com.", true},
		{"different names", "example.com.", "example.org.", false},
		{"label boundary", "ab.c.", "a.bc.", false},
		{"root", "", ".", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.same, Key(tt.a) == Key(tt.b))
		})
	}
}

func TestKeyLongName(t *testing.T) {
	long := strings.Repeat("a", 300)

	assert.Equal(t, Key(long), Key(strings.ToUpper(long)+"."))
	assert.NotEqual(t, Key(long), Key(long[1:]))
}

func TestKeyConcurrent(t *testing.T) {
	want := Key("host.example.")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				assert.Equal(t, want, Key("HOST.example"))
			}
		}()
	}
	wg.Wait()
}

func BenchmarkKey(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Key("www.example.com.")
	}
}
