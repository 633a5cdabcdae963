package handler

import (
	"net/http"
	"strings"

	"finreport-qa/internal/middleware"
	"finreport-qa/internal/service"

	"github.com/gin-gonic/gin"
)

// QueryRequest 是提问接口的请求体，file_id 是 document_id 的别名。
type QueryRequest struct {
	Question   string `json:"question"`
	DocumentID string `json:"document_id"`
	FileID     string `json:"file_id"`
}

// ChatHandler 负责处理针对文档的提问。
type ChatHandler struct {
	qaService service.QAService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(qaService service.QAService) *ChatHandler {
	return &ChatHandler{qaService: qaService}
}

// Query 回答一个关于指定文档的问题。
func (h *ChatHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}
	documentID := strings.TrimSpace(req.DocumentID)
	if documentID == "" {
		documentID = strings.TrimSpace(req.FileID)
	}
	if documentID == "" {
		badRequest(c, "缺少 document_id")
		return
	}

	answer, err := h.qaService.Answer(c.Request.Context(), req.Question, documentID, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"answer":  answer.Text,
		"sources": answer.Sources,
		"message": "Question answered successfully",
	})
}
