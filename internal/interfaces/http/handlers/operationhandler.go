package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"courseledger/internal/application/reconcile"
	"courseledger/internal/interfaces/dto"
	"courseledger/internal/shared/constants"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/utils"
)

type Reconciler interface {
	Reconcile(ctx context.Context, handleID string) (reconcile.Outcome, error)
}

// OperationHandler lets a client nudge an operation that came back
// pending instead of waiting for the background retry.
type OperationHandler struct {
	reconciler Reconciler
	logger     logger.Interface
}

func NewOperationHandler(reconciler Reconciler, logger logger.Interface) *OperationHandler {
	return &OperationHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

func (h *OperationHandler) Reconcile(c *gin.Context) {
	handle := c.Param(constants.ParamHandle)

	outcome, err := h.reconciler.Reconcile(c.Request.Context(), handle)
	if err != nil {
		h.logger.Warnw("manual reconcile failed", "handle", handle, "error", err)
		utils.ErrorResponseWithError(c, err)
		return
	}

	resp := dto.ReconcileResponse{Handle: handle, Outcome: outcome}
	if dto.IsSettled(outcome) {
		utils.SuccessResponse(c, http.StatusOK, "", resp)
		return
	}
	utils.AcceptedResponse(c, resp, "operation still settling")
}
