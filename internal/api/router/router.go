package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/artmorph/photo-transformer/internal/api/handlers/transform"
	"github.com/artmorph/photo-transformer/internal/middleware"
)

func Setup(h *transform.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	api := r.Group("/api")
	api.Use(middleware.Identity())

	api.POST("/transform", h.Submit)                    // submitting a transformation job
	api.GET("/transformation/:id/status", h.Status)     // polling job status
	api.GET("/transformation/:id", h.Result)            // fetching terminal result
	api.DELETE("/transformation/:id", h.Cancel)         // cancelling a job
	api.GET("/transformations", h.List)                 // listing the caller's jobs

	return r
}
