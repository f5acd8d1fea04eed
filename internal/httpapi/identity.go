package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loom-platform/loom/infrastructure/errors"
)

type identifyRequest struct {
	DistinctID     string                 `json:"distinct_id"`
	AnonDistinctID string                 `json:"$anon_distinct_id"`
	Properties     map[string]interface{} `json:"properties"`
}

type aliasRequest struct {
	DistinctID string `json:"distinct_id"`
	Alias      string `json:"alias"`
}

type propertiesRequest struct {
	DistinctID string                 `json:"distinct_id"`
	Properties map[string]interface{} `json:"properties"`
}

type unsetRequest struct {
	DistinctID string   `json:"distinct_id"`
	Properties []string `json:"properties"`
}

// Identify handles POST /identify.
func (s *Server) Identify(c *gin.Context) {
	org, ok := orgFromContext(c)
	if !ok {
		writeServiceError(c, errors.InvalidAPIKey())
		return
	}
	var req identifyRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.DistinctID == "" {
		writeServiceError(c, errors.InvalidInput("distinct_id", "invalid_distinct_id"))
		return
	}

	var (
		resolvedErr error
	)
	if req.AnonDistinctID != "" && req.AnonDistinctID != req.DistinctID {
		_, resolvedErr = s.identity.Identify(c.Request.Context(), org, req.AnonDistinctID, req.DistinctID, req.Properties)
	} else {
		_, resolvedErr = s.identity.SetProperties(c.Request.Context(), org, req.DistinctID, req.Properties)
	}
	if resolvedErr != nil {
		writeServiceError(c, resolvedErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Alias handles POST /alias.
func (s *Server) Alias(c *gin.Context) {
	org, ok := orgFromContext(c)
	if !ok {
		writeServiceError(c, errors.InvalidAPIKey())
		return
	}
	var req aliasRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.DistinctID == "" || req.Alias == "" {
		writeServiceError(c, errors.InvalidInput("distinct_id", "invalid_distinct_id"))
		return
	}
	if _, err := s.identity.Alias(c.Request.Context(), org, req.DistinctID, req.Alias); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SetProperties handles POST /set.
func (s *Server) SetProperties(c *gin.Context) {
	org, ok := orgFromContext(c)
	if !ok {
		writeServiceError(c, errors.InvalidAPIKey())
		return
	}
	var req propertiesRequest
	if !bindJSON(c, &req) {
		return
	}
	if _, err := s.identity.SetProperties(c.Request.Context(), org, req.DistinctID, req.Properties); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SetOnceProperties handles POST /set_once.
func (s *Server) SetOnceProperties(c *gin.Context) {
	org, ok := orgFromContext(c)
	if !ok {
		writeServiceError(c, errors.InvalidAPIKey())
		return
	}
	var req propertiesRequest
	if !bindJSON(c, &req) {
		return
	}
	if _, err := s.identity.SetOnceProperties(c.Request.Context(), org, req.DistinctID, req.Properties); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// UnsetProperties handles POST /unset.
func (s *Server) UnsetProperties(c *gin.Context) {
	org, ok := orgFromContext(c)
	if !ok {
		writeServiceError(c, errors.InvalidAPIKey())
		return
	}
	var req unsetRequest
	if !bindJSON(c, &req) {
		return
	}
	if _, err := s.identity.UnsetProperties(c.Request.Context(), org, req.DistinctID, req.Properties); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
