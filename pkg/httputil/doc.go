// Package httputil holds the JSON request and response helpers and the
// middleware shared by the HTTP API.
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.ContentTypeMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
//
// Error replies always have the form {"error": "...", "request_id": "..."}.
package httputil
