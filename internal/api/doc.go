// Package api implements the HTTP API and WebSocket event stream.
//
// This package provides:
//   - Health and counter endpoints for the distributor and broker connection
//   - Shadow endpoints that read the local mirror and send get/update/delete requests
//   - A one-shot publish endpoint routed through the client facade
//   - Journalled event history
//   - A WebSocket stream where every socket owns its own distributor handle
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Routes
//
//	GET    /api/v1/health
//	GET    /api/v1/stats
//	GET    /api/v1/shadow
//	POST   /api/v1/shadow/get
//	PUT    /api/v1/shadow/reported/{key}
//	DELETE /api/v1/shadow
//	POST   /api/v1/publish
//	GET    /api/v1/events/recent?limit=N
//	GET    /api/v1/ws?topic=T
//
// Shadow requests answer 202: the broker's verdict arrives asynchronously on
// the accepted/rejected topics and is visible through GET /api/v1/shadow.
//
// # Security
//
// There is no authentication. Bind the listener to loopback or put it
// behind a reverse proxy.
//
// # Graceful Degradation
//
// Optional components (shadow, journal, publisher) that are not configured
// make their routes answer 503; the rest of the API keeps working.
package api
