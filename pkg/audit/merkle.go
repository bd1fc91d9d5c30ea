package audit

// MerkleRoot computes a Merkle root over an ordered list of hex digests.
// Odd levels duplicate the last leaf. An empty list yields the digest of
// the EMPTY_MERKLE sentinel.
func MerkleRoot(algo Algo, hashes []string) string {
	if len(hashes) == 0 {
		return HashHex(algo, []byte("EMPTY_MERKLE"))
	}

	level := make([]string, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, HashHex(algo, []byte(left+right)))
		}
		level = next
	}
	return level[0]
}
