package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"tradeassist/internal/chat"
)

// sseEmitter writes "data: <json>\n\n" frames and flushes after each one.
// One request's frames are written by this single handler goroutine.
func sseEmitter(c echo.Context) (chat.Emitter, error) {
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().Header().Set("Connection", "keep-alive")

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	return func(f chat.Frame) error {
		b, err := json.Marshal(f)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", b); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}, nil
}

func userIdent(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func tradeChatStreamHandler(orch *chat.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req tradeChatRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		}
		emit, err := sseEmitter(c)
		if err != nil {
			return err
		}
		orch.StreamTradeChat(c.Request().Context(), chat.TradeChatRequest{
			Message:   req.Message,
			UserID:    userIdent(req.UserID),
			GenChatID: req.GenChatID,
			History:   toChatHistory(req.History),
		}, emit)
		return nil
	}
}

func documentWriteChatStreamHandler(orch *chat.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req documentWriteRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		}
		emit, err := sseEmitter(c)
		if err != nil {
			return err
		}
		orch.StreamDocumentChat(c.Request().Context(), chat.DocumentChatRequest{
			DocID:           req.DocID,
			Message:         req.Message,
			UserID:          userIdent(req.UserID),
			DocumentContent: req.DocumentContent,
			History:         toChatHistory(req.History),
		}, emit)
		return nil
	}
}

func documentReadChatStreamHandler(orch *chat.Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req documentReadRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		}
		emit, err := sseEmitter(c)
		if err != nil {
			return err
		}
		orch.StreamDocumentChat(c.Request().Context(), chat.DocumentChatRequest{
			DocID:        req.DocID,
			Message:      req.Message,
			UserID:       userIdent(req.UserID),
			DocumentName: req.DocumentName,
			DocumentType: req.DocumentType,
			History:      toChatHistory(req.History),
		}, emit)
		return nil
	}
}
