package routes

import (
	"net/http"

	"bingohall/handlers"
	"bingohall/middleware"
	"bingohall/services"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(
	router *gin.Engine,
	patternHandler *handlers.PatternHandler,
	gameHandler *handlers.GameHandler,
	hub *services.Hub,
	authService *services.AuthService,
) {
	// API routes
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(authService))
	{
		// Pattern catalogue
		patterns := api.Group("/patterns")
		{
			patterns.GET("", patternHandler.ListPatterns)
			patterns.POST("", patternHandler.CreatePattern)
			patterns.GET("/:id", patternHandler.GetPattern)
		}

		// Games and round lifecycle
		games := api.Group("/games")
		{
			games.POST("", gameHandler.CreateGame)
			games.GET("/:id", gameHandler.GetGame)
			games.GET("/:id/active-round", gameHandler.GetActiveRound)

			rounds := games.Group("/:id/rounds/:roundId")
			{
				rounds.GET("", gameHandler.GetRoundState)
				rounds.POST("/start", gameHandler.StartRound)
				rounds.POST("/pause", gameHandler.PauseRound)
				rounds.POST("/resume", gameHandler.ResumeRound)
				rounds.POST("/complete", gameHandler.CompleteRound)
				rounds.POST("/cancel", gameHandler.CancelRound)
				rounds.POST("/call", gameHandler.CallNext)
				rounds.POST("/cards", gameHandler.IssueCard)
			}
		}
	}

	// WebSocket endpoint; authentication happens on the connection itself.
	router.GET("/ws", func(c *gin.Context) {
		hub.ServeWS(c.Writer, c.Request)
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
