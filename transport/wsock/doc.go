// File: transport/wsock/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package wsock is a WebSocket transport built on gorilla/websocket. A Hub
// numbers the connections it upgrades and lets a connection registry push
// to them by descriptor.
package wsock
