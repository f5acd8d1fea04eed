package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loom-platform/loom/infrastructure/errors"
	"github.com/loom-platform/loom/infrastructure/ids"
	"github.com/loom-platform/loom/infrastructure/logging"
	"github.com/loom-platform/loom/internal/analytics/store"
)

const (
	ctxKeyOrgID   = "loom_org_id"
	ctxKeyKeyID   = "loom_key_id"
	ctxKeyKeyType = "loom_key_type"
)

// APIKeyAuth returns gin middleware enforcing the SDK ingestion/identity
// routes' `Authorization: Bearer <key>` scheme: it hashes the presented key
// with pepper, looks it up, rejects unknown or revoked keys, and stashes
// the resolved org and key id on the gin context for handlers to read.
// Resolution is best-effort off the hot path for last-used bookkeeping.
func APIKeyAuth(st store.Store, pepper []byte, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := bearerToken(c.GetHeader("Authorization"))
		if rawKey == "" {
			writeServiceError(c, errors.InvalidAPIKey())
			c.Abort()
			return
		}

		hash := ids.HashKey(rawKey, pepper)
		key, err := st.LoadAPIKeyByHash(c.Request.Context(), hash)
		if err != nil {
			writeServiceError(c, errors.InvalidAPIKey())
			c.Abort()
			return
		}
		if key.Lifecycle.IsRevoked() {
			writeServiceError(c, errors.KeyRevoked(key.ID))
			c.Abort()
			return
		}

		c.Set(ctxKeyOrgID, key.OrgID)
		c.Set(ctxKeyKeyID, key.ID)
		c.Set(ctxKeyKeyType, key.KeyType)

		go func(keyID string) {
			if err := st.UpdateAPIKeyLastUsed(context.Background(), keyID); err != nil {
				logger.WithError(err).Warn("failed to record api key last-used timestamp")
			}
		}(key.ID)

		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func orgFromContext(c *gin.Context) (ids.OrgID, bool) {
	v, ok := c.Get(ctxKeyOrgID)
	if !ok {
		return ids.OrgID{}, false
	}
	org, ok := v.(ids.OrgID)
	return org, ok
}

func keyIDFromContext(c *gin.Context) string {
	v, _ := c.Get(ctxKeyKeyID)
	keyID, _ := v.(string)
	return keyID
}

func writeServiceError(c *gin.Context, err error) {
	if svcErr := errors.GetServiceError(err); svcErr != nil {
		c.JSON(svcErr.HTTPStatus, gin.H{"status": "error", "code": svcErr.Code, "error": svcErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal_error"})
}
