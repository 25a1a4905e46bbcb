// Package handlers contains reusable HTTP pieces for progressd: the parallel
// health checker and the middleware that guards the progress API.
//
//	checker := handlers.NewCompositeHealthChecker(version)
//	checker.AddCheck("database", handlers.NewPingCheck(conn))
//
//	auth := handlers.NewAPIKeyAuth("X-API-Key", keys)
//	protected := handlers.ChainHandler(mux,
//	    handlers.SecurityHeadersMiddleware,
//	    auth.Middleware,
//	)
package handlers
