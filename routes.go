package main

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// registerRoutes sets up all endpoints for the gateway.
func registerRoutes(e *echo.Echo, s *services) {
	e.GET("/health", healthHandler(s))

	api := e.Group("/api")

	// Streaming chat endpoints.
	api.POST("/trade/chat/stream", tradeChatStreamHandler(s.orch))
	api.POST("/document/write/chat/stream", documentWriteChatStreamHandler(s.orch))
	api.POST("/document/read/chat/stream", documentReadChatStreamHandler(s.orch))

	// Memory endpoints.
	api.POST("/memory/search", memorySearchHandler(s.memory))
	api.POST("/memory/save", memorySaveHandler(s.memory))
	api.POST("/memory/context", memoryContextHandler(s.memory))
	api.POST("/memory/delete", memoryDeleteHandler(s.memory))
	api.POST("/memory/delete/gen-chat", genChatMemoryDeleteHandler(s.memory))

	// Ingest endpoints.
	api.POST("/ingest/document", ingestDocumentHandler(s.ingest, s.cfg))
	api.DELETE("/ingest/document", ingestDeleteHandler(s.ingest, s.cfg))

	// Document upload flow.
	api.POST("/documents/upload", documentUploadHandler(s.store, s.objects))
	api.POST("/documents/upload/complete", documentUploadCompleteHandler(s.store, s.ingest, s.cfg))
}

func healthHandler(s *services) echo.HandlerFunc {
	status := func(enabled bool) string {
		if enabled {
			return "ok"
		}
		return "disabled"
	}
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"version": version,
			"services": map[string]string{
				"db":           status(s.cfg.Database.Enabled()),
				"vector":       status(s.vectors != nil),
				"llm":          "ok",
				"prompts":      status(s.cfg.Prompts.Enabled()),
				"object_store": status(s.objects != nil),
				"web_search":   status(s.cfg.WebSearch.Enabled()),
			},
		})
	}
}
