package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/storage"
)

const msgLegacyUpload = "Upload route deprecated. Use presigned S3 upload."

// PresignUpload handles POST /api/uploads/presign.
func (c *Controller) PresignUpload(ctx echo.Context) error {
	userID := callerID(ctx)

	var req presignRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.String(http.StatusBadRequest, "Invalid JSON body")
	}
	if strings.TrimSpace(req.Filename) == "" || strings.TrimSpace(req.ContentType) == "" {
		return ctx.String(http.StatusBadRequest, "Missing filename/contentType")
	}

	key := storage.UploadKey(userID, req.Filename)
	url, err := c.presigner.PresignUpload(ctx.Request().Context(), key)
	if err != nil {
		return c.HandleError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, presignResponse{UploadURL: url, Key: key})
}

// ViewUpload handles GET /api/uploads/view?scanId=.
func (c *Controller) ViewUpload(ctx echo.Context) error {
	scanID := strings.TrimSpace(ctx.QueryParam("scanId"))
	if scanID == "" {
		return ctx.String(http.StatusBadRequest, "Missing scanId")
	}

	scan, err := c.store.GetScan(ctx.Request().Context(), scanID, callerID(ctx))
	if err != nil && !errors.IsNotFound(err) {
		return c.HandleError(ctx, err)
	}
	if scan == nil || !scan.HasImage() {
		return ctx.String(http.StatusNotFound, "Scan not found or missing image")
	}

	url, err := c.presigner.PresignDownload(ctx.Request().Context(), *scan.ImageKey)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, viewResponse{SignedURL: url})
}

// LegacyUpload handles POST /api/scans/upload, which is gone.
func (c *Controller) LegacyUpload(ctx echo.Context) error {
	return ctx.String(http.StatusGone, msgLegacyUpload)
}
