package resteditor

import "github.com/gin-gonic/gin"

// Register registers the handler routes
type Register interface {
	Register(*gin.Engine)
}
