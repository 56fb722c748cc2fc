package recovery

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Guard(t *testing.T) {
	stderr := os.Stderr
	os.Stderr, _ = os.Open(os.DevNull)
	defer func() { os.Stderr = stderr }()

	cleaned := false

	assert.NotPanics(t, func() {
		defer Guard("test", func() { cleaned = true })
		panic("boom")
	})
	assert.True(t, cleaned)

	cleaned = false
	assert.NotPanics(t, func() {
		defer Guard("test", func() { cleaned = true })
	})
	assert.False(t, cleaned)
}
