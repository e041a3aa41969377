package app

import (
	"fmt"

	"github.com/lullabyte/lullabyte-backend/internal/platform/gcp"
	"github.com/lullabyte/lullabyte-backend/internal/platform/logger"
	"github.com/lullabyte/lullabyte-backend/internal/platform/openai"
)

type Clients struct {
	AI     openai.Client
	Bucket gcp.BucketService
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	var clients Clients

	if cfg.FakeGeneration {
		log.Warn("Generation clients running in fake mode, no upstream calls will be made")
		clients.AI = openai.NewFakeClient()
	} else {
		ai, err := openai.NewClient(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init openai client: %w", err)
		}
		clients.AI = ai
	}

	if cfg.MediaStoreMode == "gcs" {
		bucket, err := gcp.NewBucketService(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init bucket service: %w", err)
		}
		clients.Bucket = bucket
	}

	return clients, nil
}
