package handler

import (
	"net/http"

	"finreport-qa/internal/middleware"
	"finreport-qa/internal/service"
	"finreport-qa/pkg/token"

	"github.com/gin-gonic/gin"
)

// Services 是注册路由所需的全部业务依赖。
type Services struct {
	Store         *service.DocumentStore
	Ingest        service.IngestService
	QA            service.QAService
	Conversations service.ConversationService
	JWT           *token.JWTManager
	MaxFileSize   int64
}

// NewRouter 创建路由引擎并注册所有路由。
func NewRouter(s Services) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "API is running"})
	})

	uploadHandler := NewUploadHandler(s.Ingest, s.MaxFileSize)
	documentHandler := NewDocumentHandler(s.Store, s.Ingest)
	chatHandler := NewChatHandler(s.QA)
	conversationHandler := NewConversationHandler(s.Conversations)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(s.JWT))
	{
		apiV1.POST("/upload", uploadHandler.Upload)

		documents := apiV1.Group("/documents")
		{
			documents.GET("", documentHandler.List)
			documents.GET("/:id", documentHandler.Get)
			documents.DELETE("/:id", documentHandler.Delete)
			documents.POST("/:id/resume", documentHandler.Resume)
			documents.GET("/:id/watch", documentHandler.Watch)
			documents.GET("/:id/conversation", conversationHandler.GetConversation)
		}

		apiV1.POST("/query", chatHandler.Query)
		apiV1.POST("/question", chatHandler.Query)
	}
	return r
}
