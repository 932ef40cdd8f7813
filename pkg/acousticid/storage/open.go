//go:build !js && !wasm

package storage

import (
	"context"
	"fmt"
)

// Open creates the backend named by opts.Backend. An empty backend means
// SQLite at opts.Path (DefaultDBFile when unset).
func Open(ctx context.Context, opts Options) (Index, error) {
	switch opts.Backend {
	case "", BackendSQLite:
		path := opts.Path
		if path == "" {
			path = DefaultDBFile
		}
		return asIndex(OpenSQLite(path))
	case BackendPostgres:
		return asIndex(OpenPostgres(opts.DSN))
	case BackendBadger:
		if opts.InMemory {
			return asIndex(OpenBadgerInMemory())
		}
		return asIndex(OpenBadger(opts.Path))
	case BackendMongo:
		return asIndex(OpenMongo(ctx, opts.DSN, opts.Database))
	case BackendMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
}

// asIndex keeps a failed constructor from yielding a non-nil Index that
// wraps a nil pointer.
func asIndex[T Index](idx T, err error) (Index, error) {
	if err != nil {
		return nil, err
	}
	return idx, nil
}
