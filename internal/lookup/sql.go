package lookup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"enricher/internal/instrument"
	"enricher/internal/store"
)

// SQLGateway serves lookups from the _lookup_values table.
type SQLGateway struct {
	store *store.Store
}

func NewSQLGateway(s *store.Store) *SQLGateway {
	return &SQLGateway{store: s}
}

// FetchMany loads all keys of bucket with a single query.
func (g *SQLGateway) FetchMany(ctx context.Context, bucket string, keys []string) ([]*string, error) {
	if len(keys) == 0 {
		return []*string{}, nil
	}
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "lookup", "sql", "lookup.fetch_many")
	defer span.End()
	span.SetEntity(bucket, "")
	span.SetMetadata("keys", len(keys))

	pb := g.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT lookup_key, value FROM _lookup_values WHERE bucket = %s AND %s",
		pb.Add(bucket), g.store.Dialect.InStrings("lookup_key", pb, keys))

	rows, err := g.store.DB.QueryContext(ctx, sqlStr, pb.Params()...)
	if err != nil {
		span.SetStatus("error")
		return nil, fmt.Errorf("fetch %s: %w", bucket, err)
	}
	defer rows.Close()

	found := make(map[string]*string, len(keys))
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			span.SetStatus("error")
			return nil, fmt.Errorf("scan %s: %w", bucket, err)
		}
		if value.Valid {
			v := value.String
			found[key] = &v
		}
	}
	if err := rows.Err(); err != nil {
		span.SetStatus("error")
		return nil, fmt.Errorf("fetch %s: %w", bucket, err)
	}

	out := make([]*string, len(keys))
	for i, k := range keys {
		out[i] = found[k]
	}
	span.SetMetadata("hits", len(found))
	span.SetStatus("ok")
	return out, nil
}

// FetchOne loads a single key.
func (g *SQLGateway) FetchOne(ctx context.Context, bucket, key string) (*string, error) {
	pb := g.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT value FROM _lookup_values WHERE bucket = %s AND lookup_key = %s",
		pb.Add(bucket), pb.Add(key))

	var value sql.NullString
	err := g.store.DB.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", bucket, key, err)
	}
	if !value.Valid {
		return nil, nil
	}
	return &value.String, nil
}

// Put inserts or replaces bucket/key.
func (g *SQLGateway) Put(ctx context.Context, bucket, key, value string) error {
	d := g.store.Dialect
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO _lookup_values (bucket, lookup_key, value) VALUES (%s, %s, %s) "+
			"ON CONFLICT (bucket, lookup_key) DO UPDATE SET value = excluded.value, updated_at = %s",
		pb.Add(bucket), pb.Add(key), pb.Add(value), d.NowExpr())
	if _, err := store.Exec(ctx, g.store.DB, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, store.MapError(d, err))
	}
	return nil
}

// Delete removes bucket/key and reports whether it existed.
func (g *SQLGateway) Delete(ctx context.Context, bucket, key string) (bool, error) {
	pb := g.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM _lookup_values WHERE bucket = %s AND lookup_key = %s",
		pb.Add(bucket), pb.Add(key))
	n, err := store.Exec(ctx, g.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return n > 0, nil
}

// List returns every key/value in bucket. Keys with a NULL value are omitted.
func (g *SQLGateway) List(ctx context.Context, bucket string) (map[string]string, error) {
	pb := g.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT lookup_key, value FROM _lookup_values WHERE bucket = %s ORDER BY lookup_key", pb.Add(bucket))
	rows, err := store.QueryRows(ctx, g.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		key, _ := row["lookup_key"].(string)
		if value, ok := row["value"].(string); ok {
			out[key] = value
		}
	}
	return out, nil
}
