package engine

import (
	"context"
	"errors"
)

var ErrMisalignedFetch = errors.New("lookup gateway returned a result not aligned with its keys")

// Gateway resolves lookup keys of one entity to raw stored values. Results
// are aligned by position with keys; a nil entry means the key has no value.
// Timeouts, retries and pooling are the implementation's concern.
type Gateway interface {
	FetchMany(ctx context.Context, entity string, keys []string) ([]*string, error)
}

// SingleFetcher is implemented by gateways with a cheaper single-key path.
type SingleFetcher interface {
	FetchOne(ctx context.Context, entity, key string) (*string, error)
}

// fetch issues exactly one gateway call for keys and zips the result.
func fetch(ctx context.Context, gw Gateway, entity string, keys []string, single bool) (map[string]*string, error) {
	if len(keys) == 0 {
		return map[string]*string{}, nil
	}

	if sf, ok := gw.(SingleFetcher); ok && single && len(keys) == 1 {
		v, err := sf.FetchOne(ctx, entity, keys[0])
		if err != nil {
			return nil, err
		}
		return map[string]*string{keys[0]: v}, nil
	}

	values, err := gw.FetchMany(ctx, entity, keys)
	if err != nil {
		return nil, err
	}
	if len(values) != len(keys) {
		return nil, ErrMisalignedFetch
	}
	out := make(map[string]*string, len(keys))
	for i, k := range keys {
		out[k] = values[i]
	}
	return out, nil
}
