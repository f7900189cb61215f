package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/spinescan/spinescan/internal/api/auth"
	"github.com/spinescan/spinescan/internal/datastore"
	"github.com/spinescan/spinescan/internal/diagnosis"
	"github.com/spinescan/spinescan/internal/logger"
	"github.com/spinescan/spinescan/internal/storage"
)

// CreateScan handles POST /api/scans/create.
func (c *Controller) CreateScan(ctx echo.Context) error {
	userID := callerID(ctx)

	var req createScanRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.String(http.StatusBadRequest, "Invalid JSON body")
	}
	key := strings.TrimSpace(req.S3Key)
	if key == "" {
		return ctx.String(http.StatusBadRequest, "Missing s3Key")
	}
	if !storage.OwnsKey(userID, key) {
		return ctx.String(http.StatusBadRequest, "Invalid s3Key")
	}

	scan := &datastore.Scan{OwnerID: userID, ImageKey: &key}
	if err := c.store.CreateScan(ctx.Request().Context(), scan); err != nil {
		return c.HandleError(ctx, err)
	}

	c.log.Info("scan created",
		logger.String("scan_id", scan.ID),
		logger.String("owner_id", userID))
	return ctx.JSON(http.StatusOK, createScanResponse{ScanID: scan.ID})
}

// RunInference handles POST /api/scans/run-inference. The request blocks
// until the run reaches a terminal status.
func (c *Controller) RunInference(ctx echo.Context) error {
	var req runInferenceRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.String(http.StatusBadRequest, "Invalid JSON body")
	}
	scanID := strings.TrimSpace(req.ScanID)
	if scanID == "" {
		return ctx.String(http.StatusBadRequest, "Missing scanId")
	}

	res, err := c.runner.RunInference(ctx.Request().Context(), scanID, callerID(ctx))
	if err != nil {
		return c.HandleError(ctx, err)
	}

	if res.AlreadyRunning {
		return ctx.JSON(http.StatusOK, runInferenceResponse{
			OK:      true,
			Status:  string(datastore.StatusRunning),
			Message: "Already running",
		})
	}
	count := res.Count
	return ctx.JSON(http.StatusOK, runInferenceResponse{
		OK:     true,
		Status: string(res.Status),
		Count:  &count,
	})
}

// ListScans handles GET /api/scans, newest first.
func (c *Controller) ListScans(ctx echo.Context) error {
	limit := defaultListLimit
	if raw := ctx.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return ctx.String(http.StatusBadRequest, "Invalid limit")
		}
		limit = min(n, maxListLimit)
	}

	scans, err := c.store.ListScans(ctx.Request().Context(), callerID(ctx), limit)
	if err != nil {
		return c.HandleError(ctx, err)
	}

	out := make([]ScanResponse, 0, len(scans))
	for i := range scans {
		out = append(out, newScanResponse(&scans[i]))
	}
	return ctx.JSON(http.StatusOK, out)
}

// GetScan handles GET /api/scans/:id. The summary is recomputed on every
// request from the stored detections.
func (c *Controller) GetScan(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()

	scan, err := c.store.GetScan(reqCtx, ctx.Param("id"), callerID(ctx))
	if err != nil {
		return c.HandleError(ctx, err)
	}

	detections, err := c.store.ListDetections(reqCtx, scan.ID)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	if detections == nil {
		detections = []datastore.Detection{}
	}

	summary := diagnosis.Summarize(detections)
	if c.metrics != nil {
		c.metrics.ObserveVerdict(string(summary.Label))
	}

	return ctx.JSON(http.StatusOK, ScanDetailResponse{
		ScanResponse: newScanResponse(scan),
		Detections:   detections,
		Summary:      summary,
	})
}

// DeleteScan handles DELETE /api/scans/:id.
func (c *Controller) DeleteScan(ctx echo.Context) error {
	userID := callerID(ctx)
	id := ctx.Param("id")

	if err := c.store.DeleteScan(ctx.Request().Context(), id, userID); err != nil {
		return c.HandleError(ctx, err)
	}

	c.log.Info("scan deleted",
		logger.String("scan_id", id),
		logger.String("owner_id", userID))
	return ctx.NoContent(http.StatusNoContent)
}

func callerID(ctx echo.Context) string {
	return auth.UserID(ctx)
}
