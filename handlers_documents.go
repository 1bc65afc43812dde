package main

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"tradeassist/internal/config"
	"tradeassist/internal/ingest"
	"tradeassist/internal/objectstore"
	"tradeassist/internal/persistence"
)

// documentUploadHandler issues a presigned PUT URL and marks the document
// uploading.
func documentUploadHandler(store persistence.Store, objects objectstore.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		if objects == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "object store disabled"})
		}
		var req uploadRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
		}
		if req.DocID <= 0 || req.Filename == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "doc_id and filename are required"})
		}

		key := fmt.Sprintf("documents/%s%s", uuid.NewString(), filepath.Ext(req.Filename))
		url, err := objects.PresignPut(c.Request().Context(), key, req.MimeType, time.Hour)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}

		if err := store.SetUploadInfo(c.Request().Context(), req.DocID, req.Filename, key, req.FileSize, req.MimeType); err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "document not found"})
			}
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}

		return c.JSON(http.StatusCreated, uploadResponse{
			DocID:     req.DocID,
			UploadURL: url,
			S3Key:     key,
			ExpiresIn: 3600,
		})
	}
}

// documentUploadCompleteHandler ingests the uploaded object and advances the
// document through processing to ready (or error).
func documentUploadCompleteHandler(store persistence.Store, svc *ingest.Service, cfg *config.Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		if svc == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "ingest service disabled"})
		}
		var req uploadCompleteRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
		}

		ctx := c.Request().Context()
		doc, err := store.GetDocument(ctx, req.DocID)
		if err != nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "document not found"})
		}
		if doc.RawObjectKey != req.S3Key {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "s3_key does not match the pending upload"})
		}
		if err := store.SetUploadStatus(ctx, doc.ID, "processing", ""); err != nil {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}

		res, err := svc.Ingest(ctx, doc.ID, doc.RawObjectKey, cfg.UserDocCollection)
		if err != nil {
			log.Error().Err(err).Int64("doc_id", doc.ID).Msg("upload ingest failed")
			if serr := store.SetUploadStatus(ctx, doc.ID, "error", err.Error()); serr != nil {
				log.Error().Err(serr).Int64("doc_id", doc.ID).Msg("upload status update failed")
			}
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		}
		if err := store.SetUploadStatus(ctx, doc.ID, "ready", ""); err != nil {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}

		return c.JSON(http.StatusOK, ingestResponse{
			Success:     true,
			DocID:       doc.ID,
			ChunksCount: res.ChunksCount,
			Collection:  cfg.UserDocCollection,
		})
	}
}
