package db

import (
	"context"
	"ctrlv/cfg"
	"ctrlv/svc/util"

	"github.com/pkg/errors"
)

// Open returns the paste store selected by STORE_BACKEND.
func Open(ctx context.Context, c *cfg.Cfg) (Store, error) {
	switch c.StoreBackend {
	case cfg.BackendSQLite:
		s, err := NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
		if err != nil {
			return nil, err
		}
		util.Info().Str("backend", c.StoreBackend).Str("path", c.DatabasePath).Msg("store opened")
		return s, nil
	case cfg.BackendMongo:
		m, err := NewMongo(ctx, c.MongoURI.Value(), c.MongoDatabase, c.MongoTimeout)
		if err != nil {
			return nil, err
		}
		util.Info().Str("backend", c.StoreBackend).Str("database", c.MongoDatabase).Msg("store opened")
		return m, nil
	}
	return nil, errors.Errorf("unknown store backend %q", c.StoreBackend)
}
