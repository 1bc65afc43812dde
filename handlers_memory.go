package main

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"tradeassist/internal/memory"
)

func memoryUnavailable(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "memory service disabled"})
}

func memorySearchHandler(svc *memory.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if svc == nil {
			return memoryUnavailable(c)
		}
		var req memorySearchRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
		}
		if req.Query == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "query is required"})
		}
		if req.Limit <= 0 {
			req.Limit = 5
		}
		items, err := svc.Search(c.Request().Context(), req.Query, req.UserID, req.DocID, req.BuyerName, req.Limit)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		if items == nil {
			items = []memory.Item{}
		}
		return c.JSON(http.StatusOK, memorySearchResponse{Memories: items, Count: len(items)})
	}
}

func memorySaveHandler(svc *memory.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if svc == nil {
			return memoryUnavailable(c)
		}
		var req memorySaveRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
		}
		if len(req.Messages) == 0 || req.UserID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "messages and user_id are required"})
		}
		res := svc.SaveSmart(c.Request().Context(), req.Messages, req.UserID, memory.SaveSmartOptions{
			DocID:     req.DocID,
			GenChatID: req.GenChatID,
			BuyerName: req.BuyerName,
			Flags: memory.SaveFlags{
				SaveDoc:   req.SaveDoc,
				SaveUser:  req.SaveUser,
				SaveBuyer: req.SaveBuyer,
			},
		})
		return c.JSON(http.StatusOK, memorySaveResponse{
			Success:    true,
			SavedCount: res.Total,
			User:       res.User,
			Doc:        res.Doc,
			Buyer:      res.Buyer,
		})
	}
}

func memoryContextHandler(svc *memory.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if svc == nil {
			return memoryUnavailable(c)
		}
		var req memoryContextRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
		}
		if req.DocID <= 0 || req.UserID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "doc_id and user_id are required"})
		}
		ctx := svc.BuildDocContext(c.Request().Context(), req.DocID, req.UserID, req.Query, req.BuyerName)
		if ctx.Doc == nil {
			ctx.Doc = []memory.Item{}
		}
		if ctx.User == nil {
			ctx.User = []memory.Item{}
		}
		if ctx.Buyer == nil {
			ctx.Buyer = []memory.Item{}
		}
		return c.JSON(http.StatusOK, ctx)
	}
}

func memoryDeleteHandler(svc *memory.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if svc == nil {
			return memoryUnavailable(c)
		}
		var req memoryDeleteRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
		}
		deleted, err := svc.DeleteTrade(c.Request().Context(), req.TradeID, req.DocIDs)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, memoryDeleteResponse{Success: true, DeletedCount: deleted})
	}
}

func genChatMemoryDeleteHandler(svc *memory.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if svc == nil {
			return memoryUnavailable(c)
		}
		var req genChatMemoryDeleteRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
		}
		if req.GenChatID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "gen_chat_id is required"})
		}
		if err := svc.DeleteGenChat(c.Request().Context(), req.GenChatID); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, memoryDeleteResponse{Success: true, DeletedCount: 1})
	}
}
