package store

import (
	"fmt"

	"waterstation-gateway/pkg/config"
	"waterstation-gateway/pkg/database"
	"waterstation-gateway/pkg/httpclient"
)

// Open builds the backend selected by STORE_BACKEND. The MySQL backend
// creates its tables on first use.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.StoreBackend {
	case config.BackendRTDB:
		return NewRTDBStore(httpclient.NewClient(cfg.UpstreamTimeout), cfg.StoreURL, cfg.StoreAuth), nil
	case config.BackendMySQL:
		db, err := database.Open(cfg.DB)
		if err != nil {
			return nil, err
		}
		if err := database.CreateTables(db); err != nil {
			db.Close()
			return nil, err
		}
		return NewMySQLStore(db), nil
	case config.BackendBadger:
		return NewBadgerStore(cfg.BadgerDir)
	case config.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
