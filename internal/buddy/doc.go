// Package buddy owns peer connections and the line protocol spoken over them.
//
// Ownership boundary:
// - the buddy directory (List) and per-buddy connection references
// - inbound accept loop, outbound dialing through the SOCKS proxy
// - per-connection receivers, the message registry and dispatcher
// - the ping/pong handshake that binds inbound connections to buddies
// - the idle-connection reaper and the reconnect loop
//
// Every mutation of the directory, the live connection set, or a buddy's
// connection references happens under the List mutex. Observer callbacks and
// network writes never run under that mutex.
package buddy
