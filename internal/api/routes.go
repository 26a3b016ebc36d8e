package api

// setupRoutes wires the HTTP surface onto the gin router.
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/stream", s.handleStream)

	sectors := s.router.Group("/sectors")
	{
		sectors.GET("", s.handleListSectors)
		sectors.POST("", s.handleCreateSector)
		sectors.GET("/:id", s.handleGetSector)
		sectors.DELETE("/:id", s.handleDeleteSector)
		sectors.POST("/:id/deposit", s.handleDeposit)
		sectors.POST("/:id/withdraw", s.handleWithdraw)
		sectors.POST("/:id/agents", s.handleCreateAgent)
		sectors.GET("/:id/executionLogs", s.handleExecutionLogs)
		sectors.GET("/:id/priceHistory", s.handlePriceHistory)
		sectors.POST("/:id/tick", s.handleManualTick)
	}

	s.router.GET("/agents", s.handleListAgents)
	s.router.GET("/agents/:id", s.handleGetAgent)

	discussions := s.router.Group("/discussions")
	{
		discussions.GET("", s.handleListDiscussions)
		discussions.POST("", s.handleCreateDiscussion)
		discussions.GET("/:id", s.handleGetDiscussion)
		discussions.POST("/:id/message", s.handlePostMessage)
		discussions.POST("/:id/start-rounds", s.handleStartRounds)
		discussions.POST("/:id/close", s.handleCloseDiscussion)
		discussions.POST("/:id/archive", s.handleArchiveDiscussion)
		discussions.GET("/:id/state", s.handleDiscussionState)
		discussions.GET("/:id/validate-invariants", s.handleValidateInvariants)
	}

	sim := s.router.Group("/simulation")
	{
		sim.POST("/pause", s.handlePause)
		sim.POST("/resume", s.handleResume)
		sim.GET("/status", s.handleSimulationStatus)
	}
}
