package handlers

import (
	"net/http"

	"trustwork_backend/internal/middleware"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/services"
	"trustwork_backend/internal/services/dto"

	"github.com/gin-gonic/gin"
)

type ApplicationHandler struct {
	*BaseHandler
	applicationService services.ApplicationService
}

func NewApplicationHandler(base *BaseHandler, applicationService services.ApplicationService) *ApplicationHandler {
	return &ApplicationHandler{
		BaseHandler:        base,
		applicationService: applicationService,
	}
}

// RegisterRoutes ожидает группу, уже закрытую AuthMiddleware
func (h *ApplicationHandler) RegisterRoutes(r *gin.RouterGroup) {
	applications := r.Group("/applications")
	{
		applications.POST("", middleware.RequireRoles(models.RoleFreelancer), h.Submit)
		applications.GET("/:applicationId", h.Get)
		applications.PATCH("/:applicationId/status", middleware.RequireRoles(models.RoleEmployer, models.RoleAdmin), h.UpdateStatus)
		applications.POST("/:applicationId/withdraw", middleware.RequireRoles(models.RoleFreelancer), h.Withdraw)
	}

	r.GET("/assignments/:assignmentId/applications", middleware.RequireRoles(models.RoleEmployer, models.RoleAdmin), h.ListForEmployer)
	r.GET("/freelancers/:freelancerId/applications", h.ListForFreelancer)
}

func (h *ApplicationHandler) Submit(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	var req dto.SubmitApplicationRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	application, err := h.applicationService.Submit(c.Request.Context(), h.GetDB(c), p, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, application)
}

func (h *ApplicationHandler) Get(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	applicationID, ok := ParamID(c, "applicationId")
	if !ok {
		return
	}

	application, err := h.applicationService.Get(c.Request.Context(), h.GetDB(c), p, applicationID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, application)
}

func (h *ApplicationHandler) ListForEmployer(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	assignmentID, ok := ParamID(c, "assignmentId")
	if !ok {
		return
	}
	var query dto.ApplicationListQuery
	if !h.BindAndValidate_Query(c, &query) {
		return
	}
	query.Page, query.PageSize = ParsePagination(c)

	page, err := h.applicationService.ListForEmployer(c.Request.Context(), h.GetDB(c), p, assignmentID, query)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ApplicationHandler) ListForFreelancer(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	freelancerID, ok := ParamID(c, "freelancerId")
	if !ok {
		return
	}
	var query dto.ApplicationListQuery
	if !h.BindAndValidate_Query(c, &query) {
		return
	}
	query.Page, query.PageSize = ParsePagination(c)

	page, err := h.applicationService.ListForFreelancer(c.Request.Context(), h.GetDB(c), p, freelancerID, query)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ApplicationHandler) UpdateStatus(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	applicationID, ok := ParamID(c, "applicationId")
	if !ok {
		return
	}
	var req dto.UpdateApplicationStatusRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	application, err := h.applicationService.UpdateStatus(c.Request.Context(), h.GetDB(c), p, applicationID, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, application)
}

func (h *ApplicationHandler) Withdraw(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	applicationID, ok := ParamID(c, "applicationId")
	if !ok {
		return
	}
	// тело необязательно
	var req dto.WithdrawApplicationRequest
	if c.Request.ContentLength > 0 && !h.BindAndValidate_JSON(c, &req) {
		return
	}

	application, err := h.applicationService.Withdraw(c.Request.Context(), h.GetDB(c), p, applicationID, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, application)
}
