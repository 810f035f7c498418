package handlers

import (
	"net/http"

	"trustwork_backend/internal/middleware"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/services"
	"trustwork_backend/internal/services/dto"
	"trustwork_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

const maxCallbackBody = 64 << 10

// PaymentHandler - эскроу платежи и банковские реквизиты
type PaymentHandler struct {
	*BaseHandler
	escrowService      services.EscrowService
	bankAccountService services.BankAccountService
}

func NewPaymentHandler(base *BaseHandler, escrowService services.EscrowService, bankAccountService services.BankAccountService) *PaymentHandler {
	return &PaymentHandler{
		BaseHandler:        base,
		escrowService:      escrowService,
		bankAccountService: bankAccountService,
	}
}

// RegisterPublicRoutes - вебхук процессора, без авторизации
func (h *PaymentHandler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/payments/callback", h.Callback)
}

func (h *PaymentHandler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("/checkout", middleware.RequireRoles(models.RoleEmployer), h.CreateCheckout)
		payments.GET("", h.ListPayments)
		payments.GET("/:paymentId", h.GetPayment)
		payments.POST("/:paymentId/release", middleware.RequireRoles(models.RoleEmployer, models.RoleAdmin), h.Release)
		payments.POST("/:paymentId/refund", middleware.RequireRoles(models.RoleEmployer, models.RoleAdmin), h.Refund)
		payments.POST("/:paymentId/dispute", h.OpenDispute)
	}

	bank := r.Group("/bank-account")
	{
		bank.PUT("", h.UpsertBankAccount)
		bank.GET("", h.GetBankAccount)
	}
}

func (h *PaymentHandler) Callback(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBody)
	body, err := c.GetRawData()
	if err != nil {
		apperrors.HandleError(c, apperrors.NewBadRequestError("Unreadable callback body"))
		return
	}

	payment, err := h.escrowService.IngestCallback(c.Request.Context(), h.GetDB(c), body)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": payment.Status})
}

func (h *PaymentHandler) CreateCheckout(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	var req dto.CheckoutRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	resp, err := h.escrowService.CreateCheckout(c.Request.Context(), h.GetDB(c), p, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *PaymentHandler) ListPayments(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	var query dto.PaymentListQuery
	if !h.BindAndValidate_Query(c, &query) {
		return
	}
	query.Page, query.PageSize = ParsePagination(c)

	page, err := h.escrowService.ListPayments(c.Request.Context(), h.GetDB(c), p, query)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	paymentID, ok := ParamID(c, "paymentId")
	if !ok {
		return
	}

	payment, err := h.escrowService.GetPayment(c.Request.Context(), h.GetDB(c), p, paymentID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) Release(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	paymentID, ok := ParamID(c, "paymentId")
	if !ok {
		return
	}

	payment, err := h.escrowService.Release(c.Request.Context(), h.GetDB(c), p, paymentID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) Refund(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	paymentID, ok := ParamID(c, "paymentId")
	if !ok {
		return
	}

	payment, err := h.escrowService.Refund(c.Request.Context(), h.GetDB(c), p, paymentID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) OpenDispute(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	paymentID, ok := ParamID(c, "paymentId")
	if !ok {
		return
	}
	var req dto.OpenDisputeRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	payment, err := h.escrowService.OpenDispute(c.Request.Context(), h.GetDB(c), p, paymentID, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) UpsertBankAccount(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	var req dto.BankAccountRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	account, err := h.bankAccountService.Upsert(c.Request.Context(), h.GetDB(c), p, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *PaymentHandler) GetBankAccount(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}

	account, err := h.bankAccountService.Get(c.Request.Context(), h.GetDB(c), p)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}
