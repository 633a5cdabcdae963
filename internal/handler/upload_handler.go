package handler

import (
	"errors"
	"io"
	"net/http"

	"finreport-qa/internal/middleware"
	"finreport-qa/internal/model"
	"finreport-qa/internal/service"
	"finreport-qa/pkg/log"

	"github.com/gin-gonic/gin"
)

// multipartOverhead 是 multipart 边界和表单字段的额外空间。
const multipartOverhead = 1 << 20

// UploadHandler 负责处理文件上传请求。
type UploadHandler struct {
	ingestService service.IngestService
	maxFileSize   int64
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(ingestService service.IngestService, maxFileSize int64) *UploadHandler {
	return &UploadHandler{ingestService: ingestService, maxFileSize: maxFileSize}
}

// Upload 接收 multipart 表单中的 file 字段并开始摄取。
func (h *UploadHandler) Upload(c *gin.Context) {
	userID := middleware.UserID(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, model.NewError(model.KindFileTooLarge, "file exceeds the %d byte limit", h.maxFileSize))
			return
		}
		badRequest(c, "缺少上传文件 file")
		return
	}
	if fileHeader.Size > h.maxFileSize {
		respondError(c, model.NewError(model.KindFileTooLarge, "file is %d bytes, limit is %d", fileHeader.Size, h.maxFileSize))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("[UploadHandler] 打开上传文件失败", err)
		respondError(c, err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		respondError(c, err)
		return
	}

	log.Infof("[UploadHandler] 收到上传, 用户: %s, 文件: %s, 大小: %d", userID, fileHeader.Filename, len(data))
	doc, err := h.ingestService.Ingest(c.Request.Context(), data, fileHeader.Filename, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	message := "文件已接收，正在后台处理"
	switch doc.Status {
	case model.StatusIndexed:
		message = "文件处理完成"
	case model.StatusFailed:
		message = "文件处理失败"
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"document_id": doc.ID,
		"message":     message,
		"status":      doc.Status,
		"document":    doc.ToDTO(),
	})
}
