// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Prefix tags formatted digests with their algorithm.
const Prefix = "blake3:"

// Digest is a 256-bit BLAKE3 digest.
type Digest [32]byte

// String returns the formatted digest.
func (d Digest) String() string {
	return FormatDigest(d)
}

// HashReader streams r through BLAKE3 until EOF.
func HashReader(r io.Reader) (Digest, error) {
	hasher := blake3.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return Digest{}, err
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// HashFile computes the digest of the file at path.
func HashFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	digest, err := HashReader(file)
	if err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest, nil
}

// HashBytes computes the digest of data.
func HashBytes(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// FormatDigest returns "blake3:" followed by the lowercase hex digest.
func FormatDigest(digest Digest) string {
	return Prefix + hex.EncodeToString(digest[:])
}

// ParseDigest parses the output of FormatDigest. The prefix is
// optional so that bare hex pasted from other tools is accepted.
func ParseDigest(text string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(strings.TrimPrefix(text, Prefix))
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}
