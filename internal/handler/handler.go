package handler

import (
	"errors"

	"trustmarket/internal/repository"
	"trustmarket/internal/service"
	"trustmarket/pkg/response"

	"github.com/gin-gonic/gin"
)

// writeServiceError 服务层错误到业务错误码的统一映射
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		response.BusinessError(c, response.CodeOrderNotFound, err.Error())
	case errors.Is(err, repository.ErrProductNotFound):
		response.BusinessError(c, response.CodeProductNotFound, err.Error())
	case errors.Is(err, repository.ErrUserNotFound):
		response.BusinessError(c, response.CodeUserNotFound, err.Error())
	case errors.Is(err, repository.ErrScoreNotFound),
		errors.Is(err, repository.ErrAccountNotFound):
		response.Error(c, response.CodeNotFound, err.Error())
	case errors.Is(err, service.ErrValidationFailed):
		response.BusinessError(c, response.CodeValidationFailed, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Error(c, response.CodeForbidden, err.Error())
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, repository.ErrOrderStatusInvalid),
		errors.Is(err, repository.ErrStockNotEnough):
		response.BusinessError(c, response.CodeInvalidState, err.Error())
	case errors.Is(err, service.ErrSettlementFailed):
		response.BusinessError(c, response.CodeSettlementFailed, err.Error())
	case errors.Is(err, service.ErrReconciliationRequired):
		response.BusinessError(c, response.CodeReconciliationRequired, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}
