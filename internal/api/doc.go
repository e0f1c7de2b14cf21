// Package api serves the queue over HTTP with gorilla/mux.
//
// Every route lives under /api. Errors are returned as {"error": "..."}
// with a status derived from pkg/errors, and /api/events streams queue
// notifications as Server-Sent Events. When server.api_token is set all
// routes except /api/health require "Authorization: Bearer <token>".
package api
