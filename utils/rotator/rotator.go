package rotator

import (
	"errors"
	"strings"
	"sync/atomic"
)

// ErrNoKeys is returned when no usable key is configured.
var ErrNoKeys = errors.New("no api keys configured")

// Rotator holds an immutable, ordered set of keys and a shared cursor into it.
// It is safe for concurrent use.
type Rotator struct {
	keys   []string
	cursor atomic.Int64
}

// New creates a Rotator starting at index 0.
func New(keys []string) (*Rotator, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	cp := make([]string, len(keys))
	for i, key := range keys {
		if strings.TrimSpace(key) == "" {
			return nil, ErrNoKeys
		}
		cp[i] = key
	}

	return &Rotator{keys: cp}, nil
}

// ParseKeys splits a comma separated key list, dropping blank entries.
func ParseKeys(raw string) ([]string, error) {
	var keys []string
	for _, key := range strings.Split(raw, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}

	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	return keys, nil
}

// Len returns the number of keys.
func (r *Rotator) Len() int {
	return len(r.keys)
}

// Index returns the current cursor.
func (r *Rotator) Index() int {
	return int(r.cursor.Load())
}

// Current returns the cursor and the key it points at.
func (r *Rotator) Current() (int, string) {
	index := r.Index()
	return index, r.keys[index]
}

// Rotate advances the cursor by one, wrapping at Len, and returns the
// cursor before and after the move.
func (r *Rotator) Rotate() (prev, next int) {
	n := int64(len(r.keys))
	for {
		old := r.cursor.Load()
		updated := (old + 1) % n
		if r.cursor.CompareAndSwap(old, updated) {
			return int(old), int(updated)
		}
	}
}
