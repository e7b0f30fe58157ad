package xrpl

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Crypto-condition framing for a PREIMAGE-SHA-256 condition over a 32-byte
// preimage. The prefix identifies the condition type and the suffix declares
// the preimage length.
const (
	conditionPrefix   = "A0258020"
	conditionSuffix   = "810120"
	fulfillmentPrefix = "A0228020"
	preimageLen       = 32
)

// ConditionPair holds the public commitment for a conditional transfer and
// the fulfillment that releases it. The fulfillment embeds the raw preimage
// and must be treated as a secret until a finish transaction is submitted.
type ConditionPair struct {
	Condition   string
	Fulfillment string
}

// GenerateCondition draws a fresh 32-byte preimage from a cryptographically
// secure source and returns the condition/fulfillment pair gating a
// conditional hold.
func GenerateCondition() (*ConditionPair, error) {
	preimage := make([]byte, preimageLen)
	if _, err := rand.Read(preimage); err != nil {
		return nil, fmt.Errorf("failed to draw condition preimage: %w", err)
	}

	digest := sha256.Sum256(preimage)

	return &ConditionPair{
		Condition:   conditionPrefix + strings.ToUpper(hex.EncodeToString(digest[:])) + conditionSuffix,
		Fulfillment: fulfillmentPrefix + strings.ToUpper(hex.EncodeToString(preimage)),
	}, nil
}

// ConditionDigest extracts the hex-encoded SHA-256 digest embedded in a
// condition string.
func ConditionDigest(condition string) (string, error) {
	if !strings.HasPrefix(condition, conditionPrefix) || !strings.HasSuffix(condition, conditionSuffix) {
		return "", fmt.Errorf("malformed condition %q", condition)
	}

	digest := strings.TrimSuffix(strings.TrimPrefix(condition, conditionPrefix), conditionSuffix)
	if len(digest) != preimageLen*2 {
		return "", fmt.Errorf("condition digest has wrong length %d", len(digest))
	}

	return digest, nil
}
