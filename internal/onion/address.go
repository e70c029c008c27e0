package onion

import (
	"crypto/ed25519"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// AddressLen is the encoded length of a v3 identifier.
	AddressLen = 56
	// Version is the only accepted onion-service version byte.
	Version byte = 3
	// Suffix is the top-level domain a hostname file carries.
	Suffix = ".onion"

	pubkeyLen   = ed25519.PublicKeySize
	checksumLen = 2
	decodedLen  = pubkeyLen + checksumLen + 1

	checksumDomain = ".onion checksum"
	alphabet       = "abcdefghijklmnopqrstuvwxyz234567"
)

var (
	ErrInvalidAddress = errors.New("onion: invalid address")
	ErrLength         = errors.New("onion: wrong length")
	ErrAlphabet       = errors.New("onion: character outside base32 alphabet")
	ErrVersion        = errors.New("onion: unsupported version")
	ErrChecksum       = errors.New("onion: checksum mismatch")
)

var encoding = base32.NewEncoding(alphabet).WithPadding(base32.NoPadding)

// Validate reports whether address is a well-formed, checksummed v3 identifier.
func Validate(address string) bool {
	return Check(address) == nil
}

// Check is Validate with the rejection reason attached, for logging.
func Check(address string) error {
	if len(address) != AddressLen {
		return fmt.Errorf("%w: %w (%d)", ErrInvalidAddress, ErrLength, len(address))
	}
	for i := 0; i < len(address); i++ {
		if strings.IndexByte(alphabet, address[i]) < 0 {
			return fmt.Errorf("%w: %w at %d", ErrInvalidAddress, ErrAlphabet, i)
		}
	}
	raw, err := encoding.DecodeString(address)
	if err != nil || len(raw) != decodedLen {
		return fmt.Errorf("%w: %w", ErrInvalidAddress, ErrAlphabet)
	}

	pubkey := raw[:pubkeyLen]
	sum := raw[pubkeyLen : pubkeyLen+checksumLen]
	version := raw[decodedLen-1]
	if version != Version {
		return fmt.Errorf("%w: %w (%d)", ErrInvalidAddress, ErrVersion, version)
	}
	want := checksum(pubkey, version)
	if sum[0] != want[0] || sum[1] != want[1] {
		return fmt.Errorf("%w: %w", ErrInvalidAddress, ErrChecksum)
	}
	return nil
}

// FromPublicKey derives the v3 identifier for an ed25519 public key.
func FromPublicKey(pub ed25519.PublicKey) string {
	raw := make([]byte, 0, decodedLen)
	raw = append(raw, pub...)
	raw = append(raw, checksum(pub, Version)...)
	raw = append(raw, Version)
	return encoding.EncodeToString(raw)
}

// Normalize trims whitespace and the ".onion" suffix from a hostname.
func Normalize(hostname string) string {
	return strings.TrimSuffix(strings.TrimSpace(hostname), Suffix)
}

func checksum(pubkey []byte, version byte) []byte {
	h := sha3.New256()
	h.Write([]byte(checksumDomain))
	h.Write(pubkey)
	h.Write([]byte{version})
	return h.Sum(nil)[:checksumLen]
}
