package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sectorsim/tradesim/internal/checklist"
	"github.com/sectorsim/tradesim/internal/domain"
)

// handleListDiscussions implements GET /discussions?sectorId=&status=&page=&pageSize=
// It returns a filtered, paginated list plus a status-count summary over the
// unfiltered-by-status result set.
func (s *Server) handleListDiscussions(c *gin.Context) {
	var (
		all []domain.Discussion
		err error
	)
	sectorID := c.Query("sectorId")
	if sectorID != "" {
		all, err = s.store.Discussions().ListBySector(sectorID)
	} else {
		all, err = s.store.Discussions().List()
	}
	if err != nil {
		fail(c, err)
		return
	}

	counts := map[domain.DiscussionStatus]int{}
	for _, d := range all {
		counts[d.Status]++
	}

	filtered := all
	if statusFilter := c.Query("status"); statusFilter != "" {
		filtered = filtered[:0]
		for _, d := range all {
			if string(d.Status) == statusFilter {
				filtered = append(filtered, d)
			}
		}
	}

	page := atoiDefault(c.Query("page"), 1)
	pageSize := atoiDefault(c.Query("pageSize"), 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(filtered) {
		start = len(filtered)
	}
	if end > len(filtered) {
		end = len(filtered)
	}

	summaries := make([]discussionSummary, 0, end-start)
	for _, d := range filtered[start:end] {
		summaries = append(summaries, summarize(d))
	}

	ok(c, http.StatusOK, gin.H{
		"discussions": summaries,
		"pagination": gin.H{
			"page":     page,
			"pageSize": pageSize,
			"total":    len(filtered),
		},
		"statusCounts": counts,
	})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

type discussionSummary struct {
	ID               string                  `json:"id"`
	SectorID         string                  `json:"sectorId"`
	Title            string                  `json:"title"`
	Status           domain.DiscussionStatus `json:"status"`
	Round            int                     `json:"round"`
	CurrentRound     int                     `json:"currentRound"`
	ParticipantCount int                     `json:"participantCount"`
	ChecklistCount   int                     `json:"checklistCount"`
	CreatedAt        string                  `json:"createdAt"`
	UpdatedAt        string                  `json:"updatedAt"`
}

func summarize(d domain.Discussion) discussionSummary {
	return discussionSummary{
		ID:               d.ID,
		SectorID:         d.SectorID,
		Title:            d.Title,
		Status:           d.Status,
		Round:            d.Round,
		CurrentRound:     d.CurrentRound,
		ParticipantCount: len(d.ParticipantAgentIDs),
		ChecklistCount:   len(d.Checklist),
		CreatedAt:        d.CreatedAt.Format(rfc3339),
		UpdatedAt:        d.UpdatedAt.Format(rfc3339),
	}
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

// enrichedMessage joins a discussion message with the agent's display name
// and role: an explicit read-only view built from the persisted record
// plus a joined agent map, never mutating the record being enriched.
type enrichedMessage struct {
	domain.Message
	AgentName string           `json:"agentName"`
	AgentRole domain.AgentRole `json:"agentRole"`
}

type enrichedDiscussion struct {
	domain.Discussion
	Messages []enrichedMessage `json:"messages"`
}

// handleGetDiscussion implements GET /discussions/:id: the discussion
// with its messages enriched by a joined agent name/role, built as a
// read-only view rather than mutating the persisted record in place.
func (s *Server) handleGetDiscussion(c *gin.Context) {
	d, err := s.store.Discussions().Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	agentNames := map[string]domain.Agent{}
	agents, err := s.store.Agents().ListBySector(d.SectorID)
	if err == nil {
		for _, a := range agents {
			agentNames[a.ID] = a
		}
	}

	enriched := enrichedDiscussion{Discussion: *d}
	for _, m := range d.Messages {
		em := enrichedMessage{Message: m}
		if a, found := agentNames[m.AgentID]; found {
			em.AgentName = a.Name
			em.AgentRole = a.Role
		}
		enriched.Messages = append(enriched.Messages, em)
	}

	ok(c, http.StatusOK, enriched)
}

type createDiscussionRequest struct {
	SectorID string `json:"sectorId" binding:"required"`
	Title    string `json:"title"`
}

// handleCreateDiscussion implements POST /discussions: validates
// eligibility synchronously (so ineligible requests get a 400 immediately)
// and runs the round loop in the background, matching the engine's own
// "asynchronous dispatch relative to the HTTP request" design.
func (s *Server) handleCreateDiscussion(c *gin.Context) {
	var req createDiscussionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.ValidationError("body", err.Error()))
		return
	}

	sector, err := s.store.Sectors().Get(req.SectorID)
	if err != nil {
		fail(c, err)
		return
	}

	d, err := s.discussion.StartDiscussion(sector, req.Title)
	if err != nil {
		fail(c, err)
		return
	}

	go func(sectorID, discussionID string) {
		sec, err := s.store.Sectors().Get(sectorID)
		if err != nil {
			s.log.Error().Err(err).Str("discussionId", discussionID).Msg("failed to reload sector for round loop")
			return
		}
		if err := s.discussion.StartRounds(context.Background(), discussionID, 0); err != nil {
			s.log.Error().Err(err).Str("discussionId", discussionID).Str("sectorId", sec.ID).Msg("round loop failed")
		}
	}(sector.ID, d.ID)

	ok(c, http.StatusCreated, d)
}

type postMessageRequest struct {
	AgentID  string           `json:"agentId" binding:"required"`
	Content  string           `json:"content"`
	Role     string           `json:"role"`
	Proposal *domain.Proposal `json:"proposal"`
}

// handlePostMessage implements POST /discussions/:id/message: appends
// an operator- or agent-supplied message, and when a proposal accompanies
// it, runs it through the same checklist construction path a round-loop
// turn uses, honoring the one-attempt-per-(agent,round) guardrail.
func (s *Server) handlePostMessage(c *gin.Context) {
	id := c.Param("id")
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.ValidationError("body", err.Error()))
		return
	}

	d, err := s.store.Discussions().Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	sector, err := s.store.Sectors().Get(d.SectorID)
	if err != nil {
		fail(c, err)
		return
	}

	role := req.Role
	if role == "" {
		role = "worker"
	}

	var createdItem *domain.ChecklistItem
	round := d.CurrentRound
	if round < 1 {
		round = 1
	}

	err = s.store.Discussions().Update(id, func(cur *domain.Discussion) error {
		msg := domain.Message{
			ID:        fmt.Sprintf("%s-%d", req.AgentID, len(cur.Messages)),
			AgentID:   req.AgentID,
			Role:      role,
			Round:     round,
			Content:   req.Content,
			Proposal:  req.Proposal,
			Timestamp: time.Now(),
		}
		cur.Messages = append(cur.Messages, msg)

		if req.Proposal != nil && !cur.HasAttemptedChecklistCreation(req.AgentID, round) {
			opts := checklist.Options{AllowedSymbols: sector.NormalizedSymbols()}
			item := checklist.CreateChecklistFromProposal(req.Proposal, req.AgentID, round, opts)
			if !cur.HasChecklistItemForRound(req.AgentID, round) {
				cur.Checklist = append(cur.Checklist, *item)
				createdItem = item
			}
			cur.MarkChecklistAttempted(req.AgentID, round)
		}
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, http.StatusOK, gin.H{"checklistItem": createdItem})
}

type startRoundsRequest struct {
	NumRounds int `json:"numRounds"`
}

// handleStartRounds implements POST /discussions/:id/start-rounds:
// schedules the round loop and returns 200 immediately, per the endpoint's
// documented "200 after scheduling" contract.
func (s *Server) handleStartRounds(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.Discussions().Get(id); err != nil {
		fail(c, err)
		return
	}
	var req startRoundsRequest
	_ = c.ShouldBindJSON(&req)

	go func() {
		if err := s.discussion.StartRounds(context.Background(), id, req.NumRounds); err != nil {
			s.log.Error().Err(err).Str("discussionId", id).Msg("start-rounds failed")
		}
	}()

	ok(c, http.StatusOK, gin.H{"scheduled": true})
}

type closeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCloseDiscussion(c *gin.Context) {
	id := c.Param("id")
	var req closeRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "closed by operator"
	}
	if err := s.discussion.CloseDiscussion(id, req.Reason); err != nil {
		fail(c, err)
		return
	}
	d, err := s.store.Discussions().Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// handleArchiveDiscussion implements POST /discussions/:id/archive:
// transitions a discussion straight to DECIDED. The status service still
// refuses if PENDING/REVISE_REQUIRED items remain, so
// this is only a legal no-op shortcut for a discussion the manager loop
// already settled but which is still sitting in AWAITING_EXECUTION.
func (s *Server) handleArchiveDiscussion(c *gin.Context) {
	id := c.Param("id")
	if err := s.status.TransitionStatus(id, domain.DiscussionDecided, "archived by operator"); err != nil {
		fail(c, err)
		return
	}
	d, err := s.store.Discussions().Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// handleDiscussionState implements GET /discussions/:id/state.
func (s *Server) handleDiscussionState(c *gin.Context) {
	d, err := s.store.Discussions().Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{
		"currentRound":     d.CurrentRound,
		"checklist":        d.Checklist,
		"roundHistory":     d.RoundHistory,
		"managerDecisions": d.ManagerDecisions,
		"status":           d.Status,
	})
}
