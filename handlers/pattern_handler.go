package handlers

import (
	"net/http"

	"bingohall/middleware"
	"bingohall/services"

	"github.com/gin-gonic/gin"
)

type PatternHandler struct {
	patternService *services.PatternService
}

func NewPatternHandler(patternService *services.PatternService) *PatternHandler {
	return &PatternHandler{
		patternService: patternService,
	}
}

func (h *PatternHandler) CreatePattern(c *gin.Context) {
	principal, _ := middleware.Principal(c)
	if !principal.HasRole(services.RoleAdmin, services.RoleOperator) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Operator role required"})
		return
	}

	var req services.CreatePatternRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pattern, err := h.patternService.CreatePattern(c.Request.Context(), principal.TenantID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, pattern)
}

func (h *PatternHandler) ListPatterns(c *gin.Context) {
	principal, _ := middleware.Principal(c)

	patterns, err := h.patternService.ListPatterns(c.Request.Context(), principal.TenantID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, patterns)
}

func (h *PatternHandler) GetPattern(c *gin.Context) {
	principal, _ := middleware.Principal(c)
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	pattern, err := h.patternService.GetPattern(c.Request.Context(), principal.TenantID, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, pattern)
}
