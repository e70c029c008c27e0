// Package session owns peer transport timing for buddy connections.
//
// Ownership boundary:
// - connect/read/write deadlines and the dead-connection window
// - reconnect backoff
// - the outbound send queue drained by outbound connection loops
package session
