package goroutine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"courseledger/internal/shared/logger"
)

func TestSafeGoTrackedRecoversPanic(t *testing.T) {
	var wg sync.WaitGroup
	var ran atomic.Bool

	SafeGoTracked(&wg, logger.NewNop(), "panics", func() { panic("boom") })
	SafeGoTracked(&wg, logger.NewNop(), "runs", func() { ran.Store(true) })

	wg.Wait()
	assert.True(t, ran.Load())
}
