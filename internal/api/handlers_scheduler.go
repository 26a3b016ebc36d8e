package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sectorsim/tradesim/internal/domain"
)

// handlePause sets the global pause flag every per-sector simulation loop
// honours.
func (s *Server) handlePause(c *gin.Context) {
	if s.scheduler == nil {
		fail(c, domain.StateError("scheduler not wired"))
		return
	}
	s.scheduler.Pause()
	ok(c, http.StatusOK, gin.H{"paused": true})
}

func (s *Server) handleResume(c *gin.Context) {
	if s.scheduler == nil {
		fail(c, domain.StateError("scheduler not wired"))
		return
	}
	s.scheduler.Resume()
	ok(c, http.StatusOK, gin.H{"paused": false})
}

func (s *Server) handleSimulationStatus(c *gin.Context) {
	paused := s.scheduler != nil && s.scheduler.IsPaused()
	ok(c, http.StatusOK, gin.H{"paused": paused})
}
