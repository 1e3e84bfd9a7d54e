// Package server provides the HTTP service of pricesync.
//
// The package is layered the same way throughout:
//
//   - Server: lifecycle (listen, graceful shutdown)
//   - Config: listen address, timeouts and public base URL
//   - Router: chi routes and the middleware chain
//   - handlers: request handlers for the connect flow, runs and webhooks
//   - events, sse, websocket: live run and account events per account
package server
