package api

import (
	"go-graph-import/internal/api/handler"
	"go-graph-import/pkg/router"

	_ "go-graph-import/docs"

	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Graph Import API
// @version 1.0
// @description Imports daily extracts into the transaction graph and tracks each run.
// @BasePath /api/v1
func RegisterRoutes(r *router.Router, h *handler.ImportHandler) {
	r.POST("/api/v1/imports", h.CreateImport)
	r.GET("/api/v1/imports", h.ListImports)
	// More specific routes first
	r.GET("/api/v1/imports/*/errors", h.GetImportErrors)
	r.POST("/api/v1/imports/*/retry", h.RetryImport)
	// Generic import route last
	r.GET("/api/v1/imports/*", h.GetImport)
	r.DELETE("/api/v1/imports/*", h.CancelImport)

	r.GET("/api/v1/domains", h.ListDomains)
	r.GET("/swagger/*", router.HandlerFunc(httpSwagger.WrapHandler))
}
