// Package api contains the HTTP handlers and wire models for the task
// engine. Handlers translate between JSON requests and the task
// service, and map coded service errors onto HTTP status codes.
package api
