// Package onion validates v3 onion-service identifiers.
//
// An identifier is the 56 character base32 form of
// pubkey(32) || checksum(2) || version(1), without the ".onion" suffix.
package onion
