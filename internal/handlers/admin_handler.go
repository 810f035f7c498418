package handlers

import (
	"net/http"

	"trustwork_backend/internal/middleware"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/services"
	"trustwork_backend/internal/services/dto"

	"github.com/gin-gonic/gin"
)

// AdminHandler - разбор споров, повтор выплат, верификация реквизитов
type AdminHandler struct {
	*BaseHandler
	escrowService       services.EscrowService
	bankAccountService  services.BankAccountService
	notificationService services.NotificationService
}

func NewAdminHandler(base *BaseHandler, escrowService services.EscrowService, bankAccountService services.BankAccountService, notificationService services.NotificationService) *AdminHandler {
	return &AdminHandler{
		BaseHandler:         base,
		escrowService:       escrowService,
		bankAccountService:  bankAccountService,
		notificationService: notificationService,
	}
}

func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	admin := r.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	{
		admin.POST("/payments/:paymentId/resolve", h.ResolveDispute)
		admin.POST("/payments/:paymentId/retry-payout", h.RetryPayout)
		admin.POST("/bank-accounts/:ownerId/verify", h.VerifyBankAccount)
		admin.POST("/safety-flags", h.FlagSafety)
	}
}

func (h *AdminHandler) ResolveDispute(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	paymentID, ok := ParamID(c, "paymentId")
	if !ok {
		return
	}
	var req dto.ResolveDisputeRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	payment, err := h.escrowService.ResolveDispute(c.Request.Context(), h.GetDB(c), p, paymentID, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *AdminHandler) RetryPayout(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	paymentID, ok := ParamID(c, "paymentId")
	if !ok {
		return
	}

	payment, err := h.escrowService.RetryPayout(c.Request.Context(), h.GetDB(c), p, paymentID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *AdminHandler) VerifyBankAccount(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	ownerID, ok := ParamID(c, "ownerId")
	if !ok {
		return
	}

	account, err := h.bankAccountService.Verify(c.Request.Context(), h.GetDB(c), p, ownerID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *AdminHandler) FlagSafety(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	var req dto.SafetyFlagRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	if err := h.notificationService.FlagSafety(c.Request.Context(), h.GetDB(c), p, &req); err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
