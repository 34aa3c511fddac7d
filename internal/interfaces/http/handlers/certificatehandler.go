package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"courseledger/internal/application/reconcile"
	"courseledger/internal/domain/credential"
	"courseledger/internal/interfaces/dto"
	"courseledger/internal/shared/constants"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/utils"
)

type CredentialService interface {
	Credential(ctx context.Context, subjectID string) reconcile.Projection[*credential.Credential]
	IsEligible(ctx context.Context, subjectID, resourceID string) credential.Eligibility
	AddMultiple(ctx context.Context, subjectID string, resourceIDs []string) (reconcile.Result[*credential.Credential], error)
}

type CertificateHandler struct {
	credentials CredentialService
	logger      logger.Interface
}

func NewCertificateHandler(credentials CredentialService, logger logger.Interface) *CertificateHandler {
	return &CertificateHandler{
		credentials: credentials,
		logger:      logger,
	}
}

type AddToCredentialRequest struct {
	ResourceIDs []string `json:"resource_ids" validate:"required,min=1,unique,dive,required"`
}

func (h *CertificateHandler) GetCredential(c *gin.Context) {
	subject, ok := subjectID(c)
	if !ok {
		return
	}
	proj := h.credentials.Credential(c.Request.Context(), subject)
	utils.SuccessResponse(c, http.StatusOK, "", dto.ToCredentialResponse(proj))
}

func (h *CertificateHandler) GetEligibility(c *gin.Context) {
	subject, ok := subjectID(c)
	if !ok {
		return
	}
	resourceID := c.Param(constants.ParamResourceID)

	utils.SuccessResponse(c, http.StatusOK, "", h.credentials.IsEligible(c.Request.Context(), subject, resourceID))
}

func (h *CertificateHandler) AddToCredential(c *gin.Context) {
	subject, ok := subjectID(c)
	if !ok {
		return
	}
	var req AddToCredentialRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.credentials.AddMultiple(c.Request.Context(), subject, req.ResourceIDs)
	if err != nil {
		h.logger.Warnw("failed to add courses to credential",
			"subject_id", subject,
			"resource_ids", req.ResourceIDs,
			"error", err,
		)
		utils.ErrorResponseWithError(c, err)
		return
	}
	respondMutation(c, res, dto.ToCredentialResponse(res.Projection))
}
