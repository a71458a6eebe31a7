package echo

import e "github.com/labstack/echo/v4"

func RegisterRoutes(server *e.Echo, sessions *SessionHandler, progress *ProgressSocket) {
	g := server.Group("/api/v1/import-sessions")
	g.POST("", sessions.CreateSession)
	g.POST("/purge-expired", sessions.PurgeExpired)
	g.GET("/:id", sessions.GetSession)
	g.DELETE("/:id", sessions.DeleteSession)
	g.POST("/:id/enrich", sessions.EnrichSession)
	g.POST("/:id/sync", sessions.SyncSession)
	g.GET("/:id/export", sessions.ExportSession)
	g.GET("/:id/file", sessions.DownloadOriginal)
	if progress != nil {
		g.GET("/:id/sync/ws", progress.HandleSync)
	}
}
