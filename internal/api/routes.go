package api

// setupRoutes configures all control-plane routes
func (s *Server) setupRoutes() {
	// Load-balancer health check
	s.router.GET("/health", s.handleGetHealth)

	// API v1 group
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleGetStatus)

		// Cycle control
		v1.POST("/trigger/:pair", s.handleTrigger)
		v1.POST("/pause", s.handlePause)
		v1.POST("/resume", s.handleResume)

		// Journal access
		v1.GET("/journal", s.handleGetJournal)
		v1.GET("/ws/journal", s.handleJournalWS)

		// Paper book
		v1.GET("/portfolio", s.handleGetPortfolio)

		// Analyst lineup presets
		analysts := v1.Group("/analysts")
		{
			analysts.GET("/preset", s.handleExportPreset)
			analysts.POST("/preset", s.handleImportPreset)
		}
	}

	// Root endpoint
	s.router.GET("/", s.handleRoot)
}
