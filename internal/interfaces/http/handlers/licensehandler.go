package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	licenseapp "courseledger/internal/application/license"
	"courseledger/internal/application/reconcile"
	"courseledger/internal/domain/license"
	"courseledger/internal/interfaces/dto"
	"courseledger/internal/shared/constants"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/utils"
)

// LicenseService is the part of the license state machine the handler uses.
type LicenseService interface {
	Status(ctx context.Context, subjectID, resourceID string) licenseapp.Status
	Purchase(ctx context.Context, subjectID, resourceID string, durationUnits int) (reconcile.Result[*license.License], error)
	Renew(ctx context.Context, subjectID, resourceID string, durationUnits int) (reconcile.Result[*license.License], error)
	StatusOf(res reconcile.Result[*license.License]) licenseapp.Status
}

type LicenseHandler struct {
	licenses LicenseService
	logger   logger.Interface
}

func NewLicenseHandler(licenses LicenseService, logger logger.Interface) *LicenseHandler {
	return &LicenseHandler{
		licenses: licenses,
		logger:   logger,
	}
}

type LicenseTermRequest struct {
	DurationUnits int `json:"duration_units" validate:"min=1,max=120"`
}

func (h *LicenseHandler) GetStatus(c *gin.Context) {
	subject, ok := subjectID(c)
	if !ok {
		return
	}
	resourceID := c.Param(constants.ParamResourceID)

	status := h.licenses.Status(c.Request.Context(), subject, resourceID)
	utils.SuccessResponse(c, http.StatusOK, "", dto.ToLicenseStatusResponse(resourceID, status))
}

func (h *LicenseHandler) Purchase(c *gin.Context) {
	h.mutate(c, "purchase", h.licenses.Purchase)
}

func (h *LicenseHandler) Renew(c *gin.Context) {
	h.mutate(c, "renew", h.licenses.Renew)
}

func (h *LicenseHandler) mutate(
	c *gin.Context,
	action string,
	fn func(ctx context.Context, subjectID, resourceID string, durationUnits int) (reconcile.Result[*license.License], error),
) {
	subject, ok := subjectID(c)
	if !ok {
		return
	}
	var req LicenseTermRequest
	if !bindJSON(c, &req) {
		return
	}
	resourceID := c.Param(constants.ParamResourceID)

	res, err := fn(c.Request.Context(), subject, resourceID, req.DurationUnits)
	if err != nil {
		h.logger.Warnw("license mutation failed",
			"action", action,
			"subject_id", subject,
			"resource_id", resourceID,
			"error", err,
		)
		utils.ErrorResponseWithError(c, err)
		return
	}

	h.logger.Infow("license mutation accepted",
		"action", action,
		"subject_id", subject,
		"resource_id", resourceID,
		"outcome", res.Outcome,
	)
	respondMutation(c, res, dto.ToLicenseStatusResponse(resourceID, h.licenses.StatusOf(res)))
}
