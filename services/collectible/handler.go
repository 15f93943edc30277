package collectible

import (
	"net/http"

	"linkdrop/pkg/errutil"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, s *Service) {
	r.GET("/v1/collectibles/:owner_id", func(c *gin.Context) {
		owner := c.Param("owner_id")
		if owner == "" {
			_ = c.Error(errutil.BadRequest("owner_id is required", nil))
			return
		}

		tokens, err := s.TokensOf(c.Request.Context(), owner)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"data": tokens})
	})
}
