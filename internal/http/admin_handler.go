package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
	"github.com/wenwu/saas-platform/vpn-core/internal/repository"
	"github.com/wenwu/saas-platform/vpn-core/internal/service"
)

// AdminHandler is the internal surface for the server registry and account
// administration, authenticated by the internal secret
type AdminHandler struct {
	serverService *service.ServerService
	authService   *service.AuthService
	planRepo      *repository.PlanRepository
}

func NewAdminHandler(serverService *service.ServerService, authService *service.AuthService, planRepo *repository.PlanRepository) *AdminHandler {
	return &AdminHandler{
		serverService: serverService,
		authService:   authService,
		planRepo:      planRepo,
	}
}

// ==================== Server registry ====================

// CreateServer registers a tunnel node
func (h *AdminHandler) CreateServer(c *gin.Context) {
	var req models.CreateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	srv, err := h.serverService.Create(c.Request.Context(), &req)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, srv)
}

// ListServers returns the full registry, unfiltered by tier
func (h *AdminHandler) ListServers(c *gin.Context) {
	servers, err := h.serverService.List(c.Request.Context(), repository.ServerFilter{
		Location: c.Query("location"),
		Tier:     c.Query("tier"),
		Status:   c.Query("status"),
	})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

// GetServer returns one registry entry
func (h *AdminHandler) GetServer(c *gin.Context) {
	srv, err := h.serverService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, srv)
}

// UpdateServer mutates a registry entry
func (h *AdminHandler) UpdateServer(c *gin.Context) {
	var req models.UpdateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	srv, err := h.serverService.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, srv)
}

// DeleteServer removes a node, or sets it offline when session history
// still references it
func (h *AdminHandler) DeleteServer(c *gin.Context) {
	removed, err := h.serverService.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	if removed {
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "offline", "message": "server has session history, set offline instead"})
}

// ==================== Plan catalog ====================

type createPlanRequest struct {
	Name         string                 `json:"name" binding:"required"`
	Tier         string                 `json:"tier" binding:"required"`
	Price        string                 `json:"price" binding:"required"`
	DurationDays int                    `json:"duration_days" binding:"required"`
	Features     map[string]interface{} `json:"features,omitempty"`
}

// CreatePlan adds a plan to the catalog
func (h *AdminHandler) CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	plan, err := service.BuildPlan(req.Name, req.Tier, req.Price, req.DurationDays, req.Features)
	if err != nil {
		renderError(c, err)
		return
	}
	if err := h.planRepo.Create(c.Request.Context(), plan); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

// RetirePlan removes a plan from sale
func (h *AdminHandler) RetirePlan(c *gin.Context) {
	if err := h.planRepo.Retire(c.Request.Context(), c.Param("id")); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retired"})
}

// ==================== Accounts ====================

type updateStatusRequest struct {
	IsActive    *bool `json:"is_active" binding:"required"`
	IsPremium   *bool `json:"is_premium" binding:"required"`
	IsSuperuser *bool `json:"is_superuser" binding:"required"`
}

// UpdateSubscriberStatus sets the account flags
func (h *AdminHandler) UpdateSubscriberStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderBindError(c, err)
		return
	}

	err := h.authService.UpdateStatus(c.Request.Context(), c.Param("id"), *req.IsActive, *req.IsPremium, *req.IsSuperuser)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
