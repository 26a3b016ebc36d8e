package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sectorsim/tradesim/internal/domain"
)

func (s *Server) handleRoot(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"service": "tradesim", "status": "running", "time": time.Now().UTC()})
}

func (s *Server) handleHealthz(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "healthy"})
}

type createSectorRequest struct {
	Name              string   `json:"name" binding:"required"`
	Ticker            string   `json:"ticker" binding:"required"`
	AllowedSymbols    []string `json:"allowedSymbols" binding:"required"`
	Balance           float64  `json:"balance"`
	BaselinePrice     float64  `json:"baselinePrice"`
	DefaultVolatility float64  `json:"volatility"`
}

func (s *Server) handleCreateSector(c *gin.Context) {
	var req createSectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.ValidationError("body", err.Error()))
		return
	}
	if len(req.AllowedSymbols) == 0 {
		fail(c, domain.ValidationError("allowedSymbols", "must be non-empty"))
		return
	}
	if req.BaselinePrice <= 0 {
		req.BaselinePrice = 100
	}
	allowed := make([]string, len(req.AllowedSymbols))
	for i, sym := range req.AllowedSymbols {
		allowed[i] = strings.ToUpper(strings.TrimSpace(sym))
	}

	now := time.Now()
	sector := domain.Sector{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Ticker:         strings.ToUpper(req.Ticker),
		AllowedSymbols: allowed,
		Price:          req.BaselinePrice,
		BaselinePrice:  req.BaselinePrice,
		Volatility:     clampUnit(req.DefaultVolatility),
		Balance:        req.Balance,
		CreatedAt:      now,
	}
	if err := s.store.Sectors().Create(sector); err != nil {
		fail(c, err)
		return
	}
	if s.scheduler != nil {
		s.scheduler.Track(sector.ID)
	}
	ok(c, http.StatusCreated, sector)
}

func clampUnit(v float64) float64 {
	if v <= 0 {
		return 0.3
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *Server) handleListSectors(c *gin.Context) {
	sectors, err := s.store.Sectors().List()
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"sectors": sectors})
}

func (s *Server) handleGetSector(c *gin.Context) {
	sector, err := s.store.Sectors().Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sector)
}

// handleDeleteSector requires an explicit confirm=true query param —
// sectors are only ever deleted via explicit confirmation — and returns
// the balance the sector held at deletion time.
func (s *Server) handleDeleteSector(c *gin.Context) {
	id := c.Param("id")
	if c.Query("confirm") != "true" {
		fail(c, domain.ValidationError("confirm", "must pass ?confirm=true to delete a sector"))
		return
	}
	sector, err := s.store.Sectors().Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.store.Sectors().Delete(id); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"deletedSectorId": id, "returnedBalance": sector.Balance})
}

type fundsRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

func (s *Server) handleDeposit(c *gin.Context) {
	var req fundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.ValidationError("amount", err.Error()))
		return
	}
	if req.Amount <= 0 {
		fail(c, domain.ValidationError("amount", "must be positive"))
		return
	}
	id := c.Param("id")
	var updated domain.Sector
	err := s.store.Sectors().Update(id, func(sec *domain.Sector) error {
		sec.Balance += req.Amount
		updated = *sec
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, updated)
}

func (s *Server) handleWithdraw(c *gin.Context) {
	var req fundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.ValidationError("amount", err.Error()))
		return
	}
	if req.Amount <= 0 {
		fail(c, domain.ValidationError("amount", "must be positive"))
		return
	}
	id := c.Param("id")
	var updated domain.Sector
	err := s.store.Sectors().Update(id, func(sec *domain.Sector) error {
		if req.Amount > sec.Balance {
			return domain.ValidationError("amount", "exceeds sector balance")
		}
		sec.Balance -= req.Amount
		updated = *sec
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, updated)
}

func (s *Server) handleExecutionLogs(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.Sectors().Get(id); err != nil {
		fail(c, err)
		return
	}
	trades, err := s.store.ExecutionLog(id).List()
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handlePriceHistory(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.Sectors().Get(id); err != nil {
		fail(c, err)
		return
	}
	entries, err := s.store.PriceHistory().ListBySector(id, 500)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"priceHistory": entries})
}

// handleManualTick triggers one immediate scheduler tick for a sector,
// the operator-triggered counterpart to the periodic loop; the scheduler
// deduplicates the two via singleflight.
func (s *Server) handleManualTick(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.Sectors().Get(id); err != nil {
		fail(c, err)
		return
	}
	if s.scheduler == nil {
		fail(c, domain.StateError("scheduler not wired"))
		return
	}
	s.scheduler.Tick(c.Request.Context(), id)
	sector, err := s.store.Sectors().Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sector)
}
