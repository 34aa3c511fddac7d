package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courseledger/internal/application/reconcile"
	"courseledger/internal/interfaces/dto"
	"courseledger/internal/shared/constants"
	"courseledger/internal/shared/errors"
	"courseledger/internal/shared/utils"
)

// subjectID returns the authenticated subject, writing a 401 when the
// auth middleware did not set one.
func subjectID(c *gin.Context) (string, bool) {
	id := c.GetString(constants.ContextKeySubjectID)
	if id == "" {
		utils.ErrorResponseWithError(c, errors.NewUnauthorizedError("authentication required"))
		return "", false
	}
	return id, true
}

// bindJSON decodes and validates the request body.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		utils.ErrorResponseWithError(c, errors.NewValidationError("invalid request body", err.Error()))
		return false
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.ErrorResponseWithError(c, err)
		return false
	}
	return true
}

// respondMutation answers 200 for settled writes and 202 while the ledger
// or the index still has to catch up.
func respondMutation[T any](c *gin.Context, res reconcile.Result[T], data interface{}) {
	body := dto.ToMutationResponse(res, data)
	if dto.IsSettled(res.Outcome) {
		utils.SuccessResponse(c, http.StatusOK, "", body)
		return
	}
	utils.AcceptedResponse(c, body, "operation submitted, awaiting settlement")
}
