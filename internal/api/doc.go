// Package api serves the node's HTTP status surface: health, loop state,
// the SSE telemetry stream, the WebSocket command endpoint and Prometheus
// metrics. Responses use a single JSON envelope:
//
//	{"result":"ok","data":{...},"correlationId":"..."}
//	{"result":"error","code":"NOT_FOUND","message":"...","correlationId":"..."}
package api
