package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// The version suffix leaves room for future algorithm migration.
const (
	DomainAnchor = "replisync/anchor/v1"
	DomainRecord = "replisync/record/v1"
)

// hashWithDomain computes SHA-256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// AnchorHash returns a stable digest of an anchor.
// Equal anchors always hash equal, which lets caches memoize ResolveDelta.
func AnchorHash(a Anchor) string {
	canonical, err := MarshalCanonical(a)
	if err != nil {
		// Anchors hold only integers; canonical encoding cannot fail.
		panic(fmt.Sprintf("AnchorHash: %v", err))
	}
	return hashWithDomain(DomainAnchor, canonical)
}

// RecordHash returns a stable digest of a record's key and fields.
func RecordHash(r Record) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"key":    r.Key.String(),
		"fields": r.Fields,
	})
	if err != nil {
		return "", fmt.Errorf("RecordHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}
