package app

import (
	"fmt"

	"github.com/lullabyte/lullabyte-backend/internal/jobs/worker"
	"github.com/lullabyte/lullabyte-backend/internal/platform/logger"
	"github.com/lullabyte/lullabyte-backend/internal/services"
)

type Services struct {
	Sessions services.SessionStore
	Media    services.MediaStore
	Meter    *services.MoralMeter
	Pool     *worker.Pool
}

func wireServices(log *logger.Logger, cfg Config, clients Clients) (Services, error) {
	var svc Services

	switch cfg.SessionStoreMode {
	case "memory":
		log.Warn("Using in-memory session store, sessions will not survive restarts")
		svc.Sessions = services.NewMemorySessionStore(cfg.SessionTTL)
	case "redis":
		store, err := services.NewRedisSessionStore(log, cfg.SessionTTL)
		if err != nil {
			return Services{}, fmt.Errorf("init redis session store: %w", err)
		}
		svc.Sessions = store
	default:
		return Services{}, fmt.Errorf("unknown SESSION_STORE_MODE %q", cfg.SessionStoreMode)
	}

	switch cfg.MediaStoreMode {
	case "memory":
		log.Warn("Using in-memory media store, artifacts will not survive restarts")
		svc.Media = services.NewMemoryMediaStore()
	case "gcs":
		svc.Media = services.NewGCSMediaStore(clients.Bucket)
	default:
		return Services{}, fmt.Errorf("unknown MEDIA_STORE_MODE %q", cfg.MediaStoreMode)
	}

	svc.Meter = services.NewMoralMeter()
	svc.Pool = worker.NewPool(log)
	return svc, nil
}
