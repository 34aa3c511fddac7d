package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	records "courseledger/internal/application/common/dto"
	"courseledger/internal/application/index"
	progressapp "courseledger/internal/application/progress"
	"courseledger/internal/application/reconcile"
	"courseledger/internal/domain/progress"
	"courseledger/internal/interfaces/dto"
	"courseledger/internal/shared/constants"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/utils"
)

type ProgressService interface {
	StartSection(ctx context.Context, subjectID, resourceID, sectionID string) (reconcile.Result[progress.Sections], error)
	CompleteSection(ctx context.Context, subjectID, resourceID, sectionID string) (reconcile.Result[progress.Sections], error)
	CourseProgress(ctx context.Context, subjectID, resourceID string) progressapp.Report
	NextIncompleteSection(ctx context.Context, subjectID, resourceID string) *progress.Section
}

type AnalyticsReader interface {
	Analytics(ctx context.Context, resourceID string) index.View[records.AnalyticsRecord]
}

type CourseHandler struct {
	progress  ProgressService
	analytics AnalyticsReader
	logger    logger.Interface
}

func NewCourseHandler(progress ProgressService, analytics AnalyticsReader, logger logger.Interface) *CourseHandler {
	return &CourseHandler{
		progress:  progress,
		analytics: analytics,
		logger:    logger,
	}
}

func (h *CourseHandler) GetProgress(c *gin.Context) {
	subject, ok := subjectID(c)
	if !ok {
		return
	}
	resourceID := c.Param(constants.ParamResourceID)

	report := h.progress.CourseProgress(c.Request.Context(), subject, resourceID)
	utils.SuccessResponse(c, http.StatusOK, "", dto.ToCourseProgressResponse(resourceID, report))
}

func (h *CourseHandler) GetNextSection(c *gin.Context) {
	subject, ok := subjectID(c)
	if !ok {
		return
	}
	resourceID := c.Param(constants.ParamResourceID)

	next := h.progress.NextIncompleteSection(c.Request.Context(), subject, resourceID)
	utils.SuccessResponse(c, http.StatusOK, "", dto.ToNextSectionResponse(resourceID, next))
}

func (h *CourseHandler) StartSection(c *gin.Context) {
	h.mutate(c, "start", h.progress.StartSection)
}

func (h *CourseHandler) CompleteSection(c *gin.Context) {
	h.mutate(c, "complete", h.progress.CompleteSection)
}

func (h *CourseHandler) mutate(
	c *gin.Context,
	action string,
	fn func(ctx context.Context, subjectID, resourceID, sectionID string) (reconcile.Result[progress.Sections], error),
) {
	subject, ok := subjectID(c)
	if !ok {
		return
	}
	resourceID := c.Param(constants.ParamResourceID)
	sectionID := c.Param(constants.ParamSectionID)

	res, err := fn(c.Request.Context(), subject, resourceID, sectionID)
	if err != nil {
		h.logger.Warnw("section mutation failed",
			"action", action,
			"subject_id", subject,
			"resource_id", resourceID,
			"section_id", sectionID,
			"error", err,
		)
		utils.ErrorResponseWithError(c, err)
		return
	}
	respondMutation(c, res, dto.ToSectionsResponse(res.Projection))
}

func (h *CourseHandler) GetAnalytics(c *gin.Context) {
	resourceID := c.Param(constants.ParamResourceID)

	view := h.analytics.Analytics(c.Request.Context(), resourceID)
	if view.Degraded {
		h.logger.Debugw("serving degraded analytics", "resource_id", resourceID, "reason", view.Reason)
	}
	utils.SuccessResponse(c, http.StatusOK, "", dto.AnalyticsResponse{
		AnalyticsRecord: view.Data,
		Degraded:        view.Degraded,
		VersionMarker:   view.VersionMarker,
	})
}
