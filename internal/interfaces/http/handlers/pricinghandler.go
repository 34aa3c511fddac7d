package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"courseledger/internal/application/pricing"
	"courseledger/internal/shared/constants"
	"courseledger/internal/shared/errors"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/utils"
)

type Quoter interface {
	Quote(ctx context.Context, resourceID string, durationUnits int) (pricing.Quote, error)
}

type PricingHandler struct {
	quotes Quoter
	logger logger.Interface
}

func NewPricingHandler(quotes Quoter, logger logger.Interface) *PricingHandler {
	return &PricingHandler{
		quotes: quotes,
		logger: logger,
	}
}

func (h *PricingHandler) GetQuote(c *gin.Context) {
	resourceID := c.Param(constants.ParamResourceID)

	units := 1
	if raw := c.Query("units"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			utils.ErrorResponseWithError(c, errors.NewValidationError("units must be a positive integer", raw))
			return
		}
		units = n
	}

	quote, err := h.quotes.Quote(c.Request.Context(), resourceID, units)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", quote)
}
