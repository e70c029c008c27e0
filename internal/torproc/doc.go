// Package torproc supervises the portable Tor process and publishes the
// connectivity profile (external or portable) peer connections dial through.
//
// Startup launches the configured command in its own directory, waits for
// the onion service hostname file, then switches to the portable profile.
// Any failure leaves the external profile active. Once portable, a health
// loop reruns the startup sequence whenever the process exits.
package torproc
