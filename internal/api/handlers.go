package api

import (
	"errors"
	"net/http"
	"strconv"

	"fieldsync/internal/models"

	"github.com/gin-gonic/gin"
)

func abortWithMessage(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{Message: message})
}

func (s *HTTPServer) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		abortWithMessage(c, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidRecord), errors.Is(err, models.ErrInvalidStatus):
		abortWithMessage(c, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
		abortWithMessage(c, http.StatusInternalServerError, "internal error")
	}
}

func (s *HTTPServer) isAdmin(c *gin.Context) bool {
	_, role := callerOf(c)
	return role == s.cfg.Auth.AdminRole
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	degraded := s.degraded != nil && s.degraded.InDegradedMode()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "degraded": degraded})
}

func (s *HTTPServer) handleSubmitAct(c *gin.Context) {
	var act models.Act
	if err := c.ShouldBindJSON(&act); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ticketID, err := s.acts.Submit(c.Request.Context(), &act)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SubmitResponse{GLPIID: ticketID})
}

func (s *HTTPServer) handleListActs(c *gin.Context) {
	limit := models.DefaultPullLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abortWithMessage(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	acts, err := s.acts.Recent(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if acts == nil {
		acts = []*models.Act{}
	}
	c.JSON(http.StatusOK, acts)
}

func (s *HTTPServer) handleListTasks(c *gin.Context) {
	user, _ := callerOf(c)
	tasks, err := s.tasks.ListVisible(c.Request.Context(), user, s.isAdmin(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *HTTPServer) handleCreateTask(c *gin.Context) {
	if !s.isAdmin(c) {
		abortWithMessage(c, http.StatusForbidden, "permission denied")
		return
	}

	var task models.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, _ := callerOf(c)
	created, err := s.tasks.Create(c.Request.Context(), &task, user)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *HTTPServer) handleSyncTasks(c *gin.Context) {
	var tasks []models.Task
	if err := c.ShouldBindJSON(&tasks); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, _ := callerOf(c)
	synced, err := s.tasks.Sync(c.Request.Context(), tasks, user)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, synced)
}

func (s *HTTPServer) handlePatchTask(c *gin.Context) {
	var patch models.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid JSON body")
		return
	}

	task, err := s.tasks.Patch(c.Request.Context(), c.Param("id"), &patch)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
