package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"courseledger/internal/application/access"
	"courseledger/internal/interfaces/dto"
	"courseledger/internal/shared/constants"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/utils"
)

type TokenSource interface {
	Token(ctx context.Context, subjectID, contentID string) (access.Token, error)
	Countdown(subjectID, contentID string) (remaining time.Duration, ok bool)
}

type ContentHandler struct {
	tokens TokenSource
	logger logger.Interface
}

func NewContentHandler(tokens TokenSource, logger logger.Interface) *ContentHandler {
	return &ContentHandler{
		tokens: tokens,
		logger: logger,
	}
}

func (h *ContentHandler) GetToken(c *gin.Context) {
	subject, ok := subjectID(c)
	if !ok {
		return
	}
	contentID := c.Param(constants.ParamContentID)

	token, err := h.tokens.Token(c.Request.Context(), subject, contentID)
	if err != nil {
		h.logger.Warnw("failed to obtain content token",
			"subject_id", subject,
			"content_id", contentID,
			"error", err,
		)
		utils.ErrorResponseWithError(c, err)
		return
	}

	resp := dto.ContentTokenResponse{
		ContentID: contentID,
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
	}
	if remaining, ok := h.tokens.Countdown(subject, contentID); ok {
		resp.ExpiresInSeconds = int64(remaining.Seconds())
	}
	utils.SuccessResponse(c, http.StatusOK, "", resp)
}
