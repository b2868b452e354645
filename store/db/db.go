// Package db selects exactly one store.Driver backend at boot: no
// parallel legacy/unified storage paths, just a single configured
// Profile.Driver switching between postgres and sqlite.
package db

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/dialogmesh/internal/profile"
	"github.com/hrygo/dialogmesh/store"
	"github.com/hrygo/dialogmesh/store/db/memdriver"
	"github.com/hrygo/dialogmesh/store/db/postgres"
	"github.com/hrygo/dialogmesh/store/db/sqlite"
)

// NewDBDriver constructs the single configured store.Driver for p.Driver.
// If the configured backend is unreachable at init time and
// p.AllowDegraded is set, it falls back to the in-memory driver rather
// than failing the whole process.
func NewDBDriver(ctx context.Context, p *profile.Profile) (store.Driver, error) {
	switch p.Driver {
	case "sqlite":
		driver, err := sqlite.NewDB(ctx, p)
		if err != nil {
			if p.AllowDegraded {
				return memdriver.New(true), nil
			}
			return nil, errors.Wrap(err, "db: sqlite driver")
		}
		return driver, nil
	case "postgres":
		driver, err := postgres.NewDB(ctx, p)
		if err != nil {
			if p.AllowDegraded {
				return memdriver.New(true), nil
			}
			return nil, errors.Wrap(err, "db: postgres driver")
		}
		return driver, nil
	case "memory":
		return memdriver.New(false), nil
	default:
		return nil, errors.Errorf("db: unsupported driver %q", p.Driver)
	}
}
