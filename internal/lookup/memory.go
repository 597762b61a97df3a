package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// MemoryGateway is a map-backed gateway. Values are held per bucket.
type MemoryGateway struct {
	mu      sync.RWMutex
	buckets map[string]map[string]string
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{buckets: make(map[string]map[string]string)}
}

// FetchMany returns the values of keys in bucket, nil for missing keys.
func (g *MemoryGateway) FetchMany(_ context.Context, bucket string, keys []string) ([]*string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*string, len(keys))
	values := g.buckets[bucket]
	for i, k := range keys {
		if v, ok := values[k]; ok {
			out[i] = &v
		}
	}
	return out, nil
}

// Put stores value under bucket/key.
func (g *MemoryGateway) Put(_ context.Context, bucket, key, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.buckets[bucket] == nil {
		g.buckets[bucket] = make(map[string]string)
	}
	g.buckets[bucket][key] = value
	return nil
}

// Delete removes bucket/key. It reports whether the key existed.
func (g *MemoryGateway) Delete(_ context.Context, bucket, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.buckets[bucket][key]; !ok {
		return false, nil
	}
	delete(g.buckets[bucket], key)
	return true, nil
}

// List returns a copy of every key/value in bucket.
func (g *MemoryGateway) List(_ context.Context, bucket string) (map[string]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]string, len(g.buckets[bucket]))
	for k, v := range g.buckets[bucket] {
		out[k] = v
	}
	return out, nil
}

// LoadSeedFile fills the gateway from a YAML file of the form
//
//	employee:
//	  "1": Employee Name
//	employees:
//	  "2": {name: B, age: 20}
//
// Non-string values are stored JSON-encoded, as composite rules expect.
func (g *MemoryGateway) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var seed map[string]map[string]any
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("decode seed %s: %w", path, err)
	}
	for bucket, values := range seed {
		for key, v := range values {
			raw, err := EncodeValue(v)
			if err != nil {
				return fmt.Errorf("seed %s/%s: %w", bucket, key, err)
			}
			if err := g.Put(context.Background(), bucket, key, raw); err != nil {
				return err
			}
		}
	}
	return nil
}

// EncodeValue turns an arbitrary value into its stored form: strings are kept
// verbatim, everything else is JSON-encoded.
func EncodeValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
