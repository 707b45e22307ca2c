// Package handlers contains reusable gin middleware and health checks for the
// HTTP interface.
//
// This package provides:
//   - Request ID, access log, panic recovery and CORS middleware
//   - Per-IP rate limiting
//   - Session authentication (cookie or Bearer token)
//   - Prometheus request instrumentation
//   - Composite health checks
//
// # Health Checks
//
// The HealthChecker interface allows registering multiple named health checks
// that are executed in parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("database", handlers.NewDatabaseCheck(db))
//	checker.AddCheck("cache", handlers.NewCacheCheck(cache))
//
//	status := checker.Check(ctx)
//	if !status.Healthy {
//	    log.Warn("health check failed", logger.String("message", status.Message))
//	}
//
// # Authentication
//
// Auth resolves the session token and stores the caller in the gin context:
//
//	api := router.Group("/api", handlers.Auth(sessions, "cyberguard_session"))
//	api.GET("/profile", func(c *gin.Context) {
//	    userID := handlers.CurrentUserID(c)
//	    ...
//	})
package handlers
