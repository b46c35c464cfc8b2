// Package server implements the WebSocket hub of SailHub.
//
// Each connection gets a Client with a read pump and a write pump. The Hub
// registers clients, relays their poses to everyone else, announces
// departures, and runs the AI engine and heartbeat loops under the
// supervisor. Configuration, origin checks, routing and HTTP handlers live in
// their own files.
package server
