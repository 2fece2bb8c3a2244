package sync

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMutex_LockUnlock(t *testing.T) {
	m := NewShardedMutex()

	m.Lock("919876543210_0xabc_verification")
	m.Unlock("919876543210_0xabc_verification")

	m.Lock("")
	m.Unlock("")
}

func TestShardedMutex_SameKeySerializes(t *testing.T) {
	m := NewShardedMutex()
	counter := 0
	var wg sync.WaitGroup

	for range 100 {
		wg.Go(func() {
			_ = m.Do("919876543210_0xabc_login", func() error {
				counter++
				return nil
			})
		})
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestShardedMutex_DoReturnsError(t *testing.T) {
	m := NewShardedMutex()
	want := errors.New("store unavailable")

	err := m.Do("k", func() error { return want })

	assert.ErrorIs(t, err, want)
	// The lock must be released after fn returns.
	m.Lock("k")
	m.Unlock("k")
}

func TestShardedMutex_ShardDistribution(t *testing.T) {
	m := NewShardedMutex()

	shards := make(map[int]bool)
	keys := []string{
		"919876543210_0xa_verification",
		"919876543211_0xb_verification",
		"918765432109_0xc_login",
		"917654321098_0xd_testing",
		"916543210987_0xe_verification",
		"919999999999_0xf_login",
	}
	for _, key := range keys {
		idx := m.shardFor(key)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, shardCount)
		shards[idx] = true
	}

	assert.GreaterOrEqual(t, len(shards), 3, "expected keys to distribute across multiple shards")
	assert.Equal(t, 0, m.shardFor(""))
	assert.Equal(t, m.shardFor("same"), m.shardFor("same"))
}
