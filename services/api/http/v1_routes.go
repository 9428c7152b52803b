package http

// registerV1Routes sets up the v1 API
// Groups: /api/v1/core, /api/v1/realtime, /api/v1/failover
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware())

	// Core endpoints - stored observations
	core := v1.Group("/core")
	{
		core.GET("/stations", s.handleV1ListStations)
		core.GET("/stations/:id/observations", s.handleV1StationObservations)
	}

	realtime := v1.Group("/realtime")
	{
		realtime.GET("/now", s.handleV1RealtimeNow)
	}

	// Failover endpoints - records the worker could not store
	fo := v1.Group("/failover")
	{
		fo.GET("", s.handleV1ListFailover)
		fo.GET("/:name", s.handleV1GetFailover)
	}
}
