package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for derived identities.
// Version suffix enables future algorithm migration.
const (
	DomainRecordID = "chatarchive/record-id/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash is the plain SHA-256 of data, hex encoded.
// Minute files are named by this hash of their exact bytes, with no domain
// prefix, so any implementation holding the bytes can check the name.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RecordID derives a stable identity from the canonical encoding of an
// event's immutable content. Every node deriving it from the same content
// gets the same id.
func RecordID(canonical []byte) string {
	return hashWithDomain(DomainRecordID, canonical)
}
