// Package api exposes the HTTP surface the control process drives the
// bridge through: session init, RPC submission, settings updates, dialog
// control, schema retrieval, the outbound websocket stream and health.
package api
