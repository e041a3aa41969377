package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lullabyte/lullabyte-backend/internal/http/response"
	storymod "github.com/lullabyte/lullabyte-backend/internal/modules/story"
)

// MediaHandler proxies stored narration audio and illustrations. Objects are
// immutable apart from explicit audio regeneration, so clients may cache.
type MediaHandler struct {
	story storymod.Usecases
}

func NewMediaHandler(story storymod.Usecases) *MediaHandler {
	return &MediaHandler{story: story}
}

// GET /api/story/audio/:sessionId/:segmentId
func (h *MediaHandler) GetAudio(c *gin.Context) {
	rc, contentType, err := h.story.OpenAudio(c.Request.Context(), c.Param("sessionId"), c.Param("segmentId"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	defer rc.Close()
	c.Header("Cache-Control", "private, max-age=3600")
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}

// GET /api/story/image/:sessionId/:segmentId
func (h *MediaHandler) GetImage(c *gin.Context) {
	rc, contentType, err := h.story.OpenImage(c.Request.Context(), c.Param("sessionId"), c.Param("segmentId"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	defer rc.Close()
	c.Header("Cache-Control", "private, max-age=3600")
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}
