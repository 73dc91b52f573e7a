// Package api contains the HTTP handlers for the event submission and task
// inspection endpoints. Handlers translate between the JSON surface and the
// orchestrator; all business rules live below this layer.
package api
