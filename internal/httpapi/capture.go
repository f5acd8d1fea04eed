package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loom-platform/loom/infrastructure/errors"
	"github.com/loom-platform/loom/internal/analytics/ingest"
)

// captureRequest mirrors a single SDK capture call.
type captureRequest struct {
	Event      string                 `json:"event"`
	DistinctID string                 `json:"distinct_id"`
	Properties map[string]interface{} `json:"properties"`
	Timestamp  *time.Time             `json:"timestamp"`
}

type captureBatchRequest struct {
	Batch []captureRequest `json:"batch"`
}

func (r captureRequest) toInput(lib, libVersion *string) ingest.CaptureInput {
	input := ingest.CaptureInput{
		DistinctID: r.DistinctID,
		EventName:  r.Event,
		Properties: r.Properties,
		Lib:        lib,
		LibVersion: libVersion,
	}
	if r.Timestamp != nil {
		input.Timestamp = *r.Timestamp
	}
	return input
}

// Capture handles POST /capture.
func (s *Server) Capture(c *gin.Context) {
	org, ok := orgFromContext(c)
	if !ok {
		writeServiceError(c, errors.InvalidAPIKey())
		return
	}

	var req captureRequest
	if !bindJSON(c, &req) {
		return
	}

	meta := ingest.ExtractClientMetadata(c.Request)
	lib, libVersion := sdkLibHeaders(c)
	eventID, err := s.batcher.Capture(c.Request.Context(), org, keyIDFromContext(c), meta, req.toInput(lib, libVersion))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "event_id": eventID.String()})
}

// CaptureBatch handles POST /capture/batch.
func (s *Server) CaptureBatch(c *gin.Context) {
	org, ok := orgFromContext(c)
	if !ok {
		writeServiceError(c, errors.InvalidAPIKey())
		return
	}

	var req captureBatchRequest
	if !bindJSON(c, &req) {
		return
	}
	if len(req.Batch) == 0 {
		writeServiceError(c, errors.InvalidInput("batch", "empty_batch"))
		return
	}
	if len(req.Batch) > 100 {
		writeServiceError(c, errors.InvalidInput("batch", "batch_too_large"))
		return
	}

	meta := ingest.ExtractClientMetadata(c.Request)
	lib, libVersion := sdkLibHeaders(c)
	inputs := make([]ingest.CaptureInput, len(req.Batch))
	for i, item := range req.Batch {
		inputs[i] = item.toInput(lib, libVersion)
	}

	eventIDs, err := s.batcher.CaptureBatch(c.Request.Context(), org, keyIDFromContext(c), meta, inputs)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "count": len(eventIDs)})
}

func sdkLibHeaders(c *gin.Context) (lib, libVersion *string) {
	if v := c.GetHeader("X-Loom-Lib"); v != "" {
		lib = &v
	}
	if v := c.GetHeader("X-Loom-Lib-Version"); v != "" {
		libVersion = &v
	}
	return lib, libVersion
}

func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeServiceError(c, errors.InvalidInput("body", "must be valid JSON"))
		return false
	}
	return true
}
