package api

import (
	_ "embed"

	"github.com/fyerfyer/doc-ingest/api/handler"
	"github.com/fyerfyer/doc-ingest/api/middleware"
	"github.com/gin-gonic/gin"
)

// IndexPage 仪表盘首页
//
//go:embed web/index.html
var IndexPage []byte

// Handlers 路由需要的全部处理器
type Handlers struct {
	Dashboard *handler.DashboardHandler
	Documents *handler.DocumentHandler
	Scans     *handler.ScanHandler
	Search    *handler.SearchHandler
}

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(h Handlers, enableCORS bool) *gin.Engine {
	router := gin.New()
	// 文档ID可能包含"/"，客户端需转义为%2F
	router.UseRawPath = true

	router.Use(middleware.Logger())
	router.Use(middleware.SetTraceID())
	router.Use(middleware.ErrorHandler())
	if enableCORS {
		router.Use(Cors())
	}

	// 在调试模式下记录请求体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
	}

	router.GET("/", h.Dashboard.Index)

	api := router.Group("/api")
	{
		api.GET("/health", h.Dashboard.Health)
		api.GET("/status", h.Dashboard.Status)
		api.GET("/connections", h.Dashboard.Connections)

		// 扫描
		api.POST("/scan", h.Scans.ScanNow)
		api.GET("/scans", h.Scans.ListScans)
		api.GET("/autoscan", h.Scans.GetAutoScan)
		api.PUT("/autoscan", h.Scans.SetAutoScan)

		docGroup := api.Group("/documents")
		{
			docGroup.GET("", h.Documents.ListDocuments)
			docGroup.POST("", h.Documents.UploadDocument)
			docGroup.POST("/process", h.Documents.ProcessDocuments)
			docGroup.GET("/:id", h.Documents.GetDocument)
			docGroup.PUT("/:id", h.Documents.UpdateDocument)
			docGroup.DELETE("/:id", h.Documents.DeleteDocument)
			docGroup.GET("/:id/preview", h.Documents.PreviewDocument)
			docGroup.POST("/:id/reprocess", h.Documents.ReprocessDocument)
		}

		api.POST("/search", h.Search.Search)
	}

	return router
}

// Cors 跨域资源共享中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
