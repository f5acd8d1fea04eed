package monitor

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loom-platform/loom/infrastructure/errors"
)

// PingHandler returns a gin.HandlerFunc for GET|POST /ping/:ping_key: it
// records a check-in against the monitor owning the path's ping key.
func PingHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		pingKey := c.Param("ping_key")
		if pingKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "missing ping_key"})
			return
		}

		if err := svc.CheckIn(c.Request.Context(), pingKey); err != nil {
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func writeServiceError(c *gin.Context, err error) {
	if svcErr := errors.GetServiceError(err); svcErr != nil {
		c.JSON(svcErr.HTTPStatus, gin.H{"status": "error", "code": svcErr.Code, "error": svcErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal_error"})
}
