package handler

import (
	"net/http"
	"time"

	"finreport-qa/internal/middleware"
	"finreport-qa/internal/model"
	"finreport-qa/internal/service"
	"finreport-qa/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

const watchWriteTimeout = 10 * time.Second

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	store         *service.DocumentStore
	ingestService service.IngestService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(store *service.DocumentStore, ingestService service.IngestService) *DocumentHandler {
	return &DocumentHandler{store: store, ingestService: ingestService}
}

// List 返回当前用户的全部文档。
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.store.ListByOwner(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	items := make([]model.DocumentDTO, 0, len(docs))
	for i := range docs {
		items = append(items, docs[i].ToDTO())
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "documents": items})
}

// Get 返回单个文档的处理状态和进度。
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.store.Get(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "document": doc.ToDTO()})
}

// Delete 删除文档及其索引。
func (h *DocumentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.Delete(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "文档删除成功"})
}

// Resume 重新派发未完成的文档。
func (h *DocumentHandler) Resume(c *gin.Context) {
	doc, err := h.ingestService.Resume(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "document": doc.ToDTO()})
}

// Watch 通过 WebSocket 推送状态变化，到达终态或文档被删除后关闭连接。
func (h *DocumentHandler) Watch(c *gin.Context) {
	id := c.Param("id")
	userID := middleware.UserID(c)
	if _, err := h.store.Get(c.Request.Context(), id, userID); err != nil {
		respondError(c, err)
		return
	}

	// 先订阅再读取当前状态，避免两者之间的变化丢失
	updates, stop := h.store.Watch(id)
	defer stop()
	doc, err := h.store.Get(c.Request.Context(), id, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[DocumentHandler] WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[DocumentHandler] 开始推送文档 %s 的状态, 用户: %s", id, userID)

	// 读取协程只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(d model.Document) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
		if err := conn.WriteJSON(d.ToDTO()); err != nil {
			log.Warnf("[DocumentHandler] 推送状态失败: %v", err)
			return false
		}
		return true
	}

	if !send(*doc) || doc.Status.IsTerminal() {
		closeNormally(conn)
		return
	}
	last := doc.Status
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case d, ok := <-updates:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "document deleted"))
				return
			}
			if d.Status == last {
				continue
			}
			last = d.Status
			if !send(d) || d.Status.IsTerminal() {
				closeNormally(conn)
				return
			}
		}
	}
}

func closeNormally(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
