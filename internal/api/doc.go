// Package api implements the HTTP REST API and WebSocket server for Aptus Home.
//
// This package provides:
//   - REST endpoints to list and unlock doors and drive the apartment lock
//   - the configuration flow and portal entry management
//   - a WebSocket hub relaying lock state, buzz and health events from MQTT
//   - JWT authentication with ticket-based WebSocket auth
//
// Lock commands go straight to the bridge, which audits them. The API audits
// its own actions (logins and entry changes) asynchronously.
//
// The server runs without MQTT: REST keeps working, only the WebSocket relay
// stays silent.
package api
