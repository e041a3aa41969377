package app

import (
	httpH "github.com/lullabyte/lullabyte-backend/internal/http/handlers"
	storymod "github.com/lullabyte/lullabyte-backend/internal/modules/story"
	"github.com/lullabyte/lullabyte-backend/internal/platform/logger"
)

type Handlers struct {
	Story  *httpH.StoryHandler
	Media  *httpH.MediaHandler
	Health *httpH.HealthHandler
}

func wireHandlers(log *logger.Logger, clients Clients, svc Services) Handlers {
	story := storymod.New(storymod.UsecasesDeps{
		Log:       log,
		AI:        clients.AI,
		Media:     svc.Media,
		Sessions:  svc.Sessions,
		Meter:     svc.Meter,
		Scheduler: svc.Pool,
	})
	return Handlers{
		Story:  httpH.NewStoryHandler(story),
		Media:  httpH.NewMediaHandler(story),
		Health: httpH.NewHealthHandler(),
	}
}
