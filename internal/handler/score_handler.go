package handler

import (
	"strconv"

	"trustmarket/internal/service"
	"trustmarket/pkg/response"

	"github.com/gin-gonic/gin"
)

// ScoreHandler 信任分接口
type ScoreHandler struct {
	scoreService *service.ScoreService
}

func NewScoreHandler(scoreService *service.ScoreService) *ScoreHandler {
	return &ScoreHandler{scoreService: scoreService}
}

func parseSubjectID(c *gin.Context) (int64, bool) {
	subjectID, err := strconv.ParseInt(c.Param("subjectID"), 10, 64)
	if err != nil || subjectID <= 0 {
		response.ParamError(c, "subjectID 不合法")
		return 0, false
	}
	return subjectID, true
}

// ComputeScore 立即重算主体综合信任分
// POST /api/v1/scores/:subjectID/compute
func (h *ScoreHandler) ComputeScore(c *gin.Context) {
	subjectID, ok := parseSubjectID(c)
	if !ok {
		return
	}

	score, err := h.scoreService.ComputeScore(c.Request.Context(), subjectID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, score)
}

// GetScore 查询主体当前信任分
// GET /api/v1/scores/:subjectID
func (h *ScoreHandler) GetScore(c *gin.Context) {
	subjectID, ok := parseSubjectID(c)
	if !ok {
		return
	}

	score, err := h.scoreService.GetScore(c.Request.Context(), subjectID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, score)
}

// GetTopSubjects 按综合分倒序查询主体排行
// GET /api/v1/scores/top?limit=
func (h *ScoreHandler) GetTopSubjects(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	scores, err := h.scoreService.GetTopSubjects(c.Request.Context(), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, scores)
}

// GetScoreHistory 查询主体评分历史
// GET /api/v1/scores/:subjectID/history?limit=
func (h *ScoreHandler) GetScoreHistory(c *gin.Context) {
	subjectID, ok := parseSubjectID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	history, err := h.scoreService.GetScoreHistory(c.Request.Context(), subjectID, limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, history)
}
