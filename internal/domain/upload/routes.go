package upload

import (
	"path"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the upload endpoints under r. Authentication is
// optional; the routes read whatever identity the auth middleware set.
func RegisterRoutes(r *gin.RouterGroup, h *Handler) {
	h.basePath = path.Join(r.BasePath(), "uploads")

	uploads := r.Group("/uploads")
	{
		uploads.GET("", h.List)
		uploads.PUT("", h.PutChunk)
		uploads.POST("", h.Complete)
		uploads.DELETE("", h.Delete)
		uploads.GET("/events", h.Events)
		uploads.GET("/:id", h.Get)
		uploads.PUT("/:id", h.PutChunk)
		uploads.POST("/:id", h.Complete)
		uploads.POST("/:id/abort", h.Abort)
		uploads.DELETE("/:id", h.Delete)
	}
}
