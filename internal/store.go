package internal

import (
	"context"
	"fmt"
	"log/slog"

	"chat-relay/errors"
	"chat-relay/repositories"
)

// OpenStore opens the store selected by driver. The caller owns Close.
func OpenStore(ctx context.Context, driver, badgerPath, databaseURL string, log *slog.Logger) (repositories.Store, error) {
	var (
		store repositories.Store
		err   error
	)
	switch driver {
	case repositories.DriverBadger:
		store, err = repositories.OpenBadgerStore(badgerPath, log)
	case repositories.DriverPostgres:
		store, err = repositories.OpenPostgresStore(ctx, databaseURL, log)
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownDriver, driver)
	}
	if err != nil {
		return nil, err
	}
	log.Info("store opened", "driver", driver)
	return store, nil
}
