package handlers

import (
	"net/http"

	"trustwork_backend/internal/middleware"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/services"
	"trustwork_backend/internal/services/dto"

	"github.com/gin-gonic/gin"
)

// GigHandler - гиги и их этапы
type GigHandler struct {
	*BaseHandler
	gigService services.GigService
}

func NewGigHandler(base *BaseHandler, gigService services.GigService) *GigHandler {
	return &GigHandler{
		BaseHandler: base,
		gigService:  gigService,
	}
}

func (h *GigHandler) RegisterRoutes(r *gin.RouterGroup) {
	gigs := r.Group("/gigs")
	{
		gigs.POST("", middleware.RequireRoles(models.RoleEmployer), h.CreateDirectGig)
		gigs.GET("", h.ListGigs)
		gigs.GET("/:gigId", h.GetGig)
		gigs.PUT("/:gigId/milestones", middleware.RequireRoles(models.RoleEmployer), h.DefineMilestones)
		gigs.POST("/:gigId/complete", middleware.RequireRoles(models.RoleEmployer, models.RoleAdmin), h.CompleteGig)
		gigs.POST("/:gigId/cancel", middleware.RequireRoles(models.RoleEmployer, models.RoleAdmin), h.CancelGig)
	}

	r.POST("/milestones/:milestoneId/transition", h.TransitionMilestone)
}

func (h *GigHandler) CreateDirectGig(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	var req dto.CreateGigRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	gig, err := h.gigService.CreateDirectGig(c.Request.Context(), h.GetDB(c), p, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gig)
}

func (h *GigHandler) ListGigs(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	var query dto.GigListQuery
	if !h.BindAndValidate_Query(c, &query) {
		return
	}
	query.Page, query.PageSize = ParsePagination(c)

	page, err := h.gigService.ListGigs(c.Request.Context(), h.GetDB(c), p, query)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *GigHandler) GetGig(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	gigID, ok := ParamID(c, "gigId")
	if !ok {
		return
	}

	detail, err := h.gigService.GetGig(c.Request.Context(), h.GetDB(c), p, gigID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *GigHandler) DefineMilestones(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	gigID, ok := ParamID(c, "gigId")
	if !ok {
		return
	}
	var req dto.DefineMilestonesRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	milestones, err := h.gigService.DefineMilestones(c.Request.Context(), h.GetDB(c), p, gigID, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestones": milestones})
}

func (h *GigHandler) CompleteGig(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	gigID, ok := ParamID(c, "gigId")
	if !ok {
		return
	}

	gig, err := h.gigService.CompleteGig(c.Request.Context(), h.GetDB(c), p, gigID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gig)
}

func (h *GigHandler) CancelGig(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	gigID, ok := ParamID(c, "gigId")
	if !ok {
		return
	}

	gig, err := h.gigService.CancelGig(c.Request.Context(), h.GetDB(c), p, gigID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gig)
}

// TransitionMilestone - действие над этапом; роль проверяет сервис по действию
func (h *GigHandler) TransitionMilestone(c *gin.Context) {
	p, ok := h.GetPrincipal(c)
	if !ok {
		return
	}
	milestoneID, ok := ParamID(c, "milestoneId")
	if !ok {
		return
	}
	var req dto.TransitionMilestoneRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	milestone, err := h.gigService.TransitionMilestone(c.Request.Context(), h.GetDB(c), p, milestoneID, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, milestone)
}
