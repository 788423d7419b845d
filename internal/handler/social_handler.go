package handler

import (
	"strconv"

	"trustmarket/internal/service"
	"trustmarket/pkg/response"

	"github.com/gin-gonic/gin"
)

// SocialHandler 社交账号绑定与单项评估接口
type SocialHandler struct {
	socialService *service.SocialService
}

func NewSocialHandler(socialService *service.SocialService) *SocialHandler {
	return &SocialHandler{socialService: socialService}
}

func parseUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "userID 不合法")
		return 0, false
	}
	return userID, true
}

// LinkAccount 绑定社交账号
// POST /api/v1/social/accounts
func (h *SocialHandler) LinkAccount(c *gin.Context) {
	var req service.LinkAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.socialService.LinkAccount(c.Request.Context(), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, account)
}

// GetLinkedAccounts 查询用户绑定的社交账号
// GET /api/v1/social/users/:userID/accounts
func (h *SocialHandler) GetLinkedAccounts(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	accounts, err := h.socialService.GetLinkedAccounts(c.Request.Context(), userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, accounts)
}

// UnlinkAccount 解绑社交账号
// DELETE /api/v1/social/users/:userID/accounts/:platform
func (h *SocialHandler) UnlinkAccount(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	if err := h.socialService.UnlinkAccount(c.Request.Context(), userID, c.Param("platform")); err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, nil)
}

// EvaluateLegitimacy 立即执行合法性分析
// POST /api/v1/social/users/:userID/legitimacy
func (h *SocialHandler) EvaluateLegitimacy(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	partial, err := h.socialService.EvaluateLegitimacy(c.Request.Context(), userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, partial)
}

// EvaluateBehavior 立即执行行为分析
// POST /api/v1/social/users/:userID/behavior
func (h *SocialHandler) EvaluateBehavior(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	partial, err := h.socialService.EvaluateBehavior(c.Request.Context(), userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, partial)
}
