package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"lukechampine.com/blake3"
)

// Algo identifies the hash algorithm tagged on each record
type Algo string

const (
	AlgoBlake3 Algo = "blake3"
	AlgoSHA256 Algo = "sha256"
)

// DefaultAlgo is used when no algorithm is configured
const DefaultAlgo = AlgoBlake3

// HashHex returns the hex digest of data under the given algorithm
func HashHex(algo Algo, data []byte) string {
	switch algo {
	case AlgoSHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

// canonicalJSON renders v with sorted keys, compact separators, and no HTML
// escaping so digests are stable across writers
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to canonicalize record: %w", err)
	}
	// Encoder appends a newline
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// hashRecord computes the digest of a record including prev_hash and
// excluding hash/algo
func hashRecord(algo Algo, record map[string]any) (string, error) {
	data, err := canonicalJSON(record)
	if err != nil {
		return "", err
	}
	return HashHex(algo, data), nil
}
