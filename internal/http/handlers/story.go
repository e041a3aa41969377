package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lullabyte/lullabyte-backend/internal/http/response"
	storymod "github.com/lullabyte/lullabyte-backend/internal/modules/story"
	"github.com/lullabyte/lullabyte-backend/internal/platform/apierr"
)

type StoryHandler struct {
	story storymod.Usecases
}

func NewStoryHandler(story storymod.Usecases) *StoryHandler {
	return &StoryHandler{story: story}
}

// POST /api/story/start
func (h *StoryHandler) Start(c *gin.Context) {
	var in storymod.StartInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondAPIError(c, apierr.Validation(err))
		return
	}
	out, err := h.story.Start(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// POST /api/story/continue
func (h *StoryHandler) Continue(c *gin.Context) {
	var in storymod.ContinueInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondAPIError(c, apierr.Validation(err))
		return
	}
	if strings.TrimSpace(in.SessionID) == "" {
		response.RespondAPIError(c, apierr.Validationf("session_id is required"))
		return
	}
	out, err := h.story.Continue(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/story/status/:sessionId
func (h *StoryHandler) Status(c *gin.Context) {
	out, err := h.story.Status(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/story/branches/:sessionId/:checkpoint
func (h *StoryHandler) Branches(c *gin.Context) {
	checkpoint, err := strconv.Atoi(c.Param("checkpoint"))
	if err != nil {
		response.RespondAPIError(c, apierr.Validationf("checkpoint %q is not a number", c.Param("checkpoint")))
		return
	}
	out, err := h.story.Branches(c.Request.Context(), c.Param("sessionId"), checkpoint)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// POST /api/story/evaluate
func (h *StoryHandler) Evaluate(c *gin.Context) {
	var in struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondAPIError(c, apierr.Validation(err))
		return
	}
	if strings.TrimSpace(in.SessionID) == "" {
		response.RespondAPIError(c, apierr.Validationf("session_id is required"))
		return
	}
	out, err := h.story.Evaluate(c.Request.Context(), in.SessionID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// POST /api/story/regenerate-audio
func (h *StoryHandler) RegenerateAudio(c *gin.Context) {
	var in storymod.RegenerateAudioInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondAPIError(c, apierr.Validation(err))
		return
	}
	if strings.TrimSpace(in.SessionID) == "" || strings.TrimSpace(in.SegmentID) == "" {
		response.RespondAPIError(c, apierr.Validationf("session_id and segment_id are required"))
		return
	}
	out, err := h.story.RegenerateAudio(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}
