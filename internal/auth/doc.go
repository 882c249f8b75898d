// Package auth verifies HS256 bearer tokens for the read-only status API.
//
// Tokens carry a subject and a list of scopes:
//
//	{"sub":"dashboard","scopes":["read","telemetry"],"exp":...}
//
// /api/v1/health is always open. Command transports are not authenticated.
package auth
