package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/aiquest/config"
	"github.com/kasuganosora/aiquest/db"
	"github.com/kasuganosora/aiquest/store/filestore"
	"github.com/kasuganosora/aiquest/store/mongostore"
	"github.com/kasuganosora/aiquest/store/sqlstore"
	"go.uber.org/zap"
)

const (
	ModeFile   = "file"
	ModeSQLite = db.ModeSQLite
	ModeMySQL  = db.ModeMySQL
	ModeMongo  = "mongo"
)

// ErrUnknownBackend is returned by Open for an unrecognised storage mode.
var ErrUnknownBackend = errors.New("store: unknown storage mode")

// ResolveMode turns the configured mode into a concrete backend name.
// An empty mode prefers a configured database and falls back to files.
func ResolveMode(cfg config.StorageConfig) string {
	switch cfg.Mode {
	case "":
		switch {
		case cfg.MongoURI != "":
			return ModeMongo
		case cfg.MySQLDSN != "":
			return ModeMySQL
		default:
			return ModeFile
		}
	default:
		return cfg.Mode
	}
}

// Open selects and opens the backend once at startup.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*Store, error) {
	mode := ResolveMode(cfg)

	var (
		backend Backend
		err     error
	)
	switch mode {
	case ModeFile:
		backend, err = filestore.Open(cfg.DataDir)
	case ModeSQLite, ModeMySQL:
		gdb, openErr := db.Open(mode, cfg)
		if openErr != nil {
			return nil, openErr
		}
		backend = sqlstore.New(gdb)
	case ModeMongo:
		backend, err = mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("storage backend selected", zap.String("mode", mode))
	return New(backend, mode, logger), nil
}
