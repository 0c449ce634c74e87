package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/mindpal/backend/internal/api/handlers"
	"github.com/mindpal/backend/internal/api/middleware"
	"github.com/mindpal/backend/internal/auth"
	"github.com/mindpal/backend/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Deps struct {
	Tokens  *auth.Issuer
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer

	Auth    *handlers.AuthHandler
	Chat    *handlers.ChatHandler
	Journal *handlers.JournalHandler
	Admin   *handlers.AdminHandler
	WS      *handlers.WSHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.Use(middleware.RequestLogger(d.Logger), middleware.Metrics(d.Metrics))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	g := d.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))

	a := r.Group("/auth")
	a.POST("/register", d.Auth.Register)
	a.POST("/login", d.Auth.Login)
	a.GET("/refresh", d.Auth.Refresh)
	a.GET("/user", middleware.JWTAuth(d.Tokens), d.Auth.Me)

	// Protected routes (JWT)
	chat := r.Group("/chat", middleware.JWTAuth(d.Tokens))
	chat.GET("/start", d.Chat.Start)
	chat.GET("/conversations", d.Chat.Conversations)
	chat.GET("/:conversation_id", d.Chat.History)
	chat.GET("/:conversation_id/turns", d.Chat.Turns)
	chat.POST("/:conversation_id/message", d.Chat.Message)
	chat.POST("/:conversation_id/voice", d.Chat.Voice)
	chat.POST("/:conversation_id/end", d.Chat.End)
	chat.DELETE("/delete/:conversation_id", d.Chat.Delete)

	journal := r.Group("/journal", middleware.JWTAuth(d.Tokens))
	journal.POST("/generate_missing", d.Journal.GenerateMissing)
	journal.GET("/", d.Journal.List)
	journal.GET("/:journal_id", d.Journal.Get)
	journal.PUT("/:journal_id", d.Journal.Update)
	journal.DELETE("/:journal_id", d.Journal.Delete)

	admin := r.Group("/admin", middleware.JWTAuth(d.Tokens), middleware.RequireAdmin())
	admin.GET("/index/stats", d.Admin.IndexStats)
	admin.POST("/index/rebuild", d.Admin.RebuildIndex)
	admin.GET("/documents", d.Admin.Documents)
	admin.POST("/documents", d.Admin.UploadDocument)

	// WebSocket
	r.GET("/ws/chat/:conversation_id", middleware.JWTAuth(d.Tokens), d.WS.ChatWS)
}
