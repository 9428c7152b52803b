package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/aws-rainfall/internal/failover"
)

// handleV1ListFailover lists failover incidents, newest first
// GET /api/v1/failover
func (s *Server) handleV1ListFailover(c *gin.Context) {
	incidents, err := failover.List(s.cfg.FailoverDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": incidents,
		"meta": gin.H{"count": len(incidents)},
	})
}

// handleV1GetFailover returns the records of one incident file
// GET /api/v1/failover/:name
func (s *Server) handleV1GetFailover(c *gin.Context) {
	name := c.Param("name")

	entries, err := failover.Load(s.cfg.FailoverDir, name)
	switch {
	case errors.Is(err, failover.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	case errors.Is(err, failover.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": entries,
		"meta": gin.H{"name": name, "count": len(entries)},
	})
}
