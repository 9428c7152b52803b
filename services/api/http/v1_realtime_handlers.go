package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleV1RealtimeNow returns the newest observation of one station, or of
// every station when station_id is omitted
// GET /api/v1/realtime/now?station_id=
func (s *Server) handleV1RealtimeNow(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	generatedAt := time.Now().UTC().Format(time.RFC3339)

	stationID := c.Query("station_id")
	if stationID == "" {
		latest, err := s.store.LatestPerStation(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"data": latest,
			"meta": gin.H{"count": len(latest), "generated_at": generatedAt},
		})
		return
	}

	obs, err := s.store.Latest(ctx, stationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if obs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no observations for station"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": obs,
		"meta": gin.H{
			"age_seconds":  int64(time.Since(obs.Timestamp).Seconds()),
			"generated_at": generatedAt,
		},
	})
}
