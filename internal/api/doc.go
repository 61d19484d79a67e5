// Package api implements the HTTP control surface: message table CRUD,
// transmission start/stop, bus control and the SSE event stream, all
// under /api/v1 with a unified response envelope.
package api
