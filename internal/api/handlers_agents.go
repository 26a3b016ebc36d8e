package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sectorsim/tradesim/internal/domain"
)

func (s *Server) handleListAgents(c *gin.Context) {
	var (
		agents []domain.Agent
		err    error
	)
	if sectorID := c.Query("sectorId"); sectorID != "" {
		agents, err = s.store.Agents().ListBySector(sectorID)
	} else {
		agents, err = s.store.Agents().List()
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"agents": agents})
}

func (s *Server) handleGetAgent(c *gin.Context) {
	agent, err := s.store.Agents().Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, agent)
}

type createAgentRequest struct {
	Name          string `json:"name" binding:"required"`
	Role          string `json:"role" binding:"required"`
	RiskTolerance string `json:"riskTolerance"`
	DecisionStyle string `json:"decisionStyle"`
}

// handleCreateAgent adds an agent to a sector, enforcing the roster invariants:
// exactly one manager, worker count bounded by MaxWorkersPerSector.
func (s *Server) handleCreateAgent(c *gin.Context) {
	sectorID := c.Param("id")
	if _, err := s.store.Sectors().Get(sectorID); err != nil {
		fail(c, err)
		return
	}

	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.ValidationError("body", err.Error()))
		return
	}

	role := domain.AgentRole(req.Role)
	if role != domain.RoleManager && role != domain.RoleWorker {
		fail(c, domain.ValidationError("role", "must be \"manager\" or \"worker\""))
		return
	}

	existing, err := s.store.Agents().ListBySector(sectorID)
	if err != nil {
		fail(c, err)
		return
	}
	managers, workers := 0, 0
	for _, a := range existing {
		if a.Role == domain.RoleManager {
			managers++
		} else {
			workers++
		}
	}
	if role == domain.RoleManager && managers >= 1 {
		fail(c, domain.ValidationError("role", "sector already has a manager agent"))
		return
	}
	if role == domain.RoleWorker && workers >= domain.MaxWorkersPerSector {
		fail(c, domain.ValidationError("role", "sector already has the maximum number of worker agents"))
		return
	}

	now := time.Now()
	agent := domain.Agent{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Role:          role,
		SectorID:      sectorID,
		Confidence:    domain.GatingThreshold,
		RiskTolerance: req.RiskTolerance,
		DecisionStyle: req.DecisionStyle,
		LastActivity:  now,
	}
	if err := s.store.Agents().Create(agent); err != nil {
		fail(c, err)
		return
	}

	if err := s.store.Sectors().Update(sectorID, func(sec *domain.Sector) error {
		sec.AgentIDs = append(sec.AgentIDs, agent.ID)
		return nil
	}); err != nil {
		fail(c, err)
		return
	}

	ok(c, http.StatusCreated, agent)
}
