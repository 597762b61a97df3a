package lookup

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrMisaligned is returned when the wrapped fetcher returns a different
// number of values than keys asked for.
var ErrMisaligned = errors.New("fetcher returned a result not aligned with its keys")

// Memo wraps a Fetcher and remembers every value it has fetched, including
// misses. It is meant to live for one request: rules of the same request that
// look up the same bucket/key are served from memory. Memo never expires
// entries.
type Memo struct {
	next   Fetcher
	mu     sync.Mutex
	values map[string]map[string]*string
}

func Memoize(next Fetcher) *Memo {
	return &Memo{next: next, values: make(map[string]map[string]*string)}
}

// FetchMany fetches only the keys not seen before, in one call to the wrapped
// fetcher.
func (m *Memo) FetchMany(ctx context.Context, bucket string, keys []string) ([]*string, error) {
	m.mu.Lock()
	known := m.values[bucket]
	var missing []string
	for _, k := range keys {
		if _, ok := known[k]; !ok {
			missing = append(missing, k)
		}
	}
	m.mu.Unlock()

	if len(missing) > 0 {
		fetched, err := m.next.FetchMany(ctx, bucket, missing)
		if err != nil {
			return nil, err
		}
		if len(fetched) != len(missing) {
			return nil, fmt.Errorf("%w: %d values for %d keys", ErrMisaligned, len(fetched), len(missing))
		}
		m.mu.Lock()
		if m.values[bucket] == nil {
			m.values[bucket] = make(map[string]*string, len(missing))
		}
		for i, k := range missing {
			m.values[bucket][k] = fetched[i]
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*string, len(keys))
	for i, k := range keys {
		out[i] = m.values[bucket][k]
	}
	return out, nil
}
