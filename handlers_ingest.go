package main

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"tradeassist/internal/config"
	"tradeassist/internal/ingest"
)

func ingestUnavailable(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "ingest service disabled"})
}

func ingestDocumentHandler(svc *ingest.Service, cfg *config.Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		if svc == nil {
			return ingestUnavailable(c)
		}
		var req ingestRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
		}
		if req.DocID <= 0 || req.S3Key == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "doc_id and s3_key are required"})
		}
		collection := req.CollectionName
		if collection == "" {
			collection = cfg.UserDocCollection
		}
		res, err := svc.Ingest(c.Request().Context(), req.DocID, req.S3Key, collection)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ingest.ErrNoText) {
				status = http.StatusUnprocessableEntity
			}
			return c.JSON(status, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, ingestResponse{
			Success:     true,
			DocID:       res.DocID,
			ChunksCount: res.ChunksCount,
			Collection:  collection,
		})
	}
}

func ingestDeleteHandler(svc *ingest.Service, cfg *config.Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		if svc == nil {
			return ingestUnavailable(c)
		}
		var req ingestDeleteRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
		}
		if req.DocID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "doc_id is required"})
		}
		collection := req.CollectionName
		if collection == "" {
			collection = cfg.UserDocCollection
		}
		deleted, err := svc.DeleteDocument(c.Request().Context(), req.DocID, collection)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, ingestDeleteResponse{Success: true, DocID: req.DocID, DeletedCount: deleted})
	}
}
