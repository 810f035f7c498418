package handlers

import (
	"net/http"

	"trustwork_backend/internal/middleware"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/services"
	"trustwork_backend/internal/services/dto"

	"github.com/gin-gonic/gin"
)

type AssignmentHandler struct {
	*BaseHandler
	assignmentService services.AssignmentService
}

func NewAssignmentHandler(base *BaseHandler, assignmentService services.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{
		BaseHandler:       base,
		assignmentService: assignmentService,
	}
}

func (h *AssignmentHandler) RegisterRoutes(r *gin.RouterGroup) {
	assignments := r.Group("/assignments")
	{
		assignments.POST("", middleware.RequireRoles(models.RoleEmployer), h.Create)
		assignments.GET("/:assignmentId", h.Get)
		assignments.PATCH("/:assignmentId/status", middleware.RequireRoles(models.RoleEmployer, models.RoleAdmin), h.UpdateStatus)
	}
}

func (h *AssignmentHandler) Create(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	var req dto.CreateAssignmentRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	assignment, err := h.assignmentService.Create(c.Request.Context(), h.GetDB(c), p, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, assignment)
}

func (h *AssignmentHandler) Get(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	assignmentID, ok := ParamID(c, "assignmentId")
	if !ok {
		return
	}

	assignment, err := h.assignmentService.Get(c.Request.Context(), h.GetDB(c), p, assignmentID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignment)
}

func (h *AssignmentHandler) UpdateStatus(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	assignmentID, ok := ParamID(c, "assignmentId")
	if !ok {
		return
	}
	var req dto.UpdateAssignmentStatusRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	assignment, err := h.assignmentService.UpdateStatus(c.Request.Context(), h.GetDB(c), p, assignmentID, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignment)
}
