// Package fingerprint computes content hashes and 64-bit SimHash signatures
// used for ingestion idempotence (content_hash, CAS-style dedup) and for
// near-duplicate detection in the gravity fuser.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"math/bits"
	"strings"
	"unicode"
)

// ContentHash returns a stable hex SHA-256 digest of content, the identity
// used to detect that a compound has already been ingested.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// SimHash computes a 64-bit SimHash signature over text by splitting it
// into lowercase word tokens, hashing each token with FNV-1a, and taking a
// bit-weighted majority vote across all token hashes.
//
// Two texts that share most of their tokens end up with signatures a
// small Hamming distance apart; SimHash is what the gravity fuser uses to
// dedup near-identical hits drawn from the planet searcher and the
// tag-walker.
func SimHash(text string) uint64 {
	shingles := shingle(text, 1)
	if len(shingles) == 0 {
		return 0
	}

	var weights [64]int
	for _, sh := range shingles {
		h := fnvHash(sh)
		for bit := 0; bit < 64; bit++ {
			if h&(1<<uint(bit)) != 0 {
				weights[bit]++
			} else {
				weights[bit]--
			}
		}
	}

	var sig uint64
	for bit := 0; bit < 64; bit++ {
		if weights[bit] > 0 {
			sig |= 1 << uint(bit)
		}
	}
	return sig
}

// shingle splits text into lowercase word tokens and groups them into
// overlapping windows of n words each. Punctuation is treated as a
// separator, not content, so reordered punctuation doesn't perturb the
// signature.
func shingle(text string, n int) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return nil
	}
	if len(fields) < n {
		return []string{strings.Join(fields, " ")}
	}

	shingles := make([]string, 0, len(fields)-n+1)
	for i := 0; i+n <= len(fields); i++ {
		shingles = append(shingles, strings.Join(fields[i:i+n], " "))
	}
	return shingles
}

func fnvHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// HammingDistance returns the number of differing bits between two SimHash
// signatures, via popcount on their XOR.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// NearDuplicate reports whether two signatures are at most threshold bits
// apart.
func NearDuplicate(a, b uint64, threshold int) bool {
	return HammingDistance(a, b) <= threshold
}

// BatchHammingDistances computes the Hamming distance from query to every
// signature in candidates, preserving candidate order.
func BatchHammingDistances(query uint64, candidates []uint64) []int {
	out := make([]int, len(candidates))
	for i, c := range candidates {
		out[i] = HammingDistance(query, c)
	}
	return out
}
