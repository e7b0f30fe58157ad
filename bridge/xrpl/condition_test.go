package xrpl

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateCondition(t *testing.T) {
	pair, err := GenerateCondition()
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(pair.Condition, "A0258020"))
	require.True(t, strings.HasSuffix(pair.Condition, "810120"))
	require.True(t, strings.HasPrefix(pair.Fulfillment, "A0228020"))

	// 8-char prefix + 64-char digest + 6-char suffix
	require.Len(t, pair.Condition, 78)
	// 8-char prefix + 64-char preimage
	require.Len(t, pair.Fulfillment, 72)
}

func TestConditionCommitsToFulfillmentPreimage(t *testing.T) {
	pair, err := GenerateCondition()
	require.NoError(t, err)

	preimageHex := strings.TrimPrefix(pair.Fulfillment, "A0228020")
	preimage, err := hex.DecodeString(preimageHex)
	require.NoError(t, err)
	require.Len(t, preimage, 32)

	digest := sha256.Sum256(preimage)

	got, err := ConditionDigest(pair.Condition)
	require.NoError(t, err)
	require.Equal(t, strings.ToUpper(hex.EncodeToString(digest[:])), got)
}

func TestGenerateConditionIsUnique(t *testing.T) {
	a, err := GenerateCondition()
	require.NoError(t, err)
	b, err := GenerateCondition()
	require.NoError(t, err)

	require.NotEqual(t, a.Condition, b.Condition)
	require.NotEqual(t, a.Fulfillment, b.Fulfillment)
}

func TestConditionDigestRejectsMalformed(t *testing.T) {
	_, err := ConditionDigest("deadbeef")
	require.Error(t, err)

	_, err = ConditionDigest("A0258020" + "abcd" + "810120")
	require.Error(t, err)
}
