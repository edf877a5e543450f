// Package ws serves conversation streams over WebSocket.
//
// The package implements:
//   - Client: one connection with a buffered send queue drained by a write pump
//   - Hub: the set of live connections, closed together on shutdown
//   - Handler: reads the stream request, serves the stream and handles
//     cancel and ping control messages
//   - Service: wires the hub and handler for the HTTP layer
//
// Every stream event is written in its own text frame so the browser can
// JSON.parse each frame. A lost connection interrupts the stream as a client
// abort; a {"type":"cancel"} frame interrupts it as a client cancel.
package ws
