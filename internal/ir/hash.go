package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainRuleset separates ruleset document hashes from any other hash.
// The version suffix allows a future algorithm migration.
const DomainRuleset = "rulebook/ruleset/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DocumentHash returns the content hash of a compiled ruleset document.
// Two compilations of the same rulebook with the same variables produce the
// same hash, which ties stored telemetry to the exact rules that ran.
func DocumentHash(doc map[string]any) (string, error) {
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("DocumentHash: %w", err)
	}
	return hashWithDomain(DomainRuleset, canonical), nil
}
