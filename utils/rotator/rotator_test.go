package rotator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoKeys)

	_, err = New([]string{"k1", " "})
	assert.ErrorIs(t, err, ErrNoKeys)

	r, err := New([]string{"k1", "k2"})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	index, key := r.Current()
	assert.Equal(t, 0, index)
	assert.Equal(t, "k1", key)
}

func TestNewCopiesKeys(t *testing.T) {
	keys := []string{"k1", "k2"}
	r, err := New(keys)
	require.NoError(t, err)

	keys[0] = "changed"
	_, key := r.Current()
	assert.Equal(t, "k1", key)
}

func TestParseKeys(t *testing.T) {
	keys, err := ParseKeys("k1, k2,,k3 ")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2", "k3"}, keys)

	_, err = ParseKeys("")
	assert.ErrorIs(t, err, ErrNoKeys)

	_, err = ParseKeys(" , ,")
	assert.ErrorIs(t, err, ErrNoKeys)
}

func TestRotate(t *testing.T) {
	r, err := New([]string{"k1", "k2", "k3"})
	require.NoError(t, err)

	prev, next := r.Rotate()
	assert.Equal(t, 0, prev)
	assert.Equal(t, 1, next)

	prev, next = r.Rotate()
	assert.Equal(t, 1, prev)
	assert.Equal(t, 2, next)

	prev, next = r.Rotate()
	assert.Equal(t, 2, prev)
	assert.Equal(t, 0, next)

	_, key := r.Current()
	assert.Equal(t, "k1", key)
}

func TestRotateSingleKey(t *testing.T) {
	r, err := New([]string{"k1"})
	require.NoError(t, err)

	prev, next := r.Rotate()
	assert.Equal(t, 0, prev)
	assert.Equal(t, 0, next)
}

func TestRotateConcurrent(t *testing.T) {
	const workers = 16
	const perWorker = 1000

	r, err := New([]string{"k1", "k2", "k3", "k4", "k5", "k6", "k7"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, next := r.Rotate()
				if next < 0 || next >= r.Len() {
					t.Errorf("cursor out of range: %d", next)
				}
				index, _ := r.Current()
				if index < 0 || index >= r.Len() {
					t.Errorf("cursor out of range: %d", index)
				}
			}
		}()
	}
	wg.Wait()

	// no rotation is lost
	assert.Equal(t, (workers*perWorker)%r.Len(), r.Index())
}
