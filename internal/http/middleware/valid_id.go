package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const settingsIDKey = "settings_id"

// RequireValidID ensures the path param ":id" is an int > 0 and stores it for GetID.
func RequireValidID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid id"})
			return
		}
		c.Set(settingsIDKey, id)
		c.Next()
	}
}

// GetID returns the ID validated by RequireValidID, or 0.
func GetID(c *gin.Context) int64 {
	if v, ok := c.Get(settingsIDKey); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}
