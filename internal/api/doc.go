// Package api contains the HTTP handlers for the task service, the mapping
// from internal errors to HTTP status codes, and the request/response models.
package api
