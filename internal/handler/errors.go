// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"finreport-qa/internal/model"
	"finreport-qa/pkg/log"

	"github.com/gin-gonic/gin"
)

var statusByKind = map[model.ErrorKind]int{
	model.KindUnsupportedFormat:       http.StatusUnsupportedMediaType,
	model.KindFileTooLarge:            http.StatusRequestEntityTooLarge,
	model.KindDocumentNotFound:        http.StatusNotFound,
	model.KindUnauthorized:            http.StatusForbidden,
	model.KindDocumentNotReady:        http.StatusConflict,
	model.KindAlreadyProcessing:       http.StatusConflict,
	model.KindEmptyQuestion:           http.StatusBadRequest,
	model.KindAnswerGenerationFailure: http.StatusBadGateway,
	model.KindEmbeddingServiceError:   http.StatusBadGateway,
}

// statusFor 把错误类别映射为 HTTP 状态码，未知类别按 500 处理。
func statusFor(kind model.ErrorKind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError 统一输出错误响应。内部错误不向客户端暴露细节。
func respondError(c *gin.Context, err error) {
	kind := model.KindOf(err)
	status := statusFor(kind)
	message := model.DetailOf(err)
	if status == http.StatusInternalServerError {
		log.Errorf("[Handler] %s %s 内部错误: %v", c.Request.Method, c.FullPath(), err)
		message = "服务器内部错误"
	}
	c.JSON(status, gin.H{"success": false, "code": string(kind), "message": message})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "code": "InvalidRequest", "message": message})
}
