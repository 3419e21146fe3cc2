// Package checksum computes content digests over upload blobs.
//
// Algorithms are looked up by name so the server, its clients and the
// completion form field all agree on one identifier ("md5", "sha256", ...).
package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Default is the algorithm used when none is configured.
const Default = "md5"

// ChunkSize is how many bytes are read per digest update.
const ChunkSize = 64 * 1024

var ErrUnknownAlgorithm = errors.New("unknown checksum algorithm")

var algorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha224": sha256.New224,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
	"sha3-256": func() hash.Hash {
		return sha3.New256()
	},
	"sha3-512": func() hash.Hash {
		return sha3.New512()
	},
	"blake2b-256": func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	},
	"blake2b-512": func() hash.Hash {
		h, _ := blake2b.New512(nil)
		return h
	},
}

// Normalize lower-cases a name and accepts the underscore spelling
// (sha3_256) used by some clients.
func Normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
}

// New returns a fresh hash for the named algorithm.
func New(name string) (hash.Hash, error) {
	ctor, ok := algorithms[Normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return ctor(), nil
}

// Supported reports whether name is a known algorithm.
func Supported(name string) bool {
	_, ok := algorithms[Normalize(name)]
	return ok
}

// Names lists the known algorithms in sorted order.
func Names() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sum streams r through the named digest ChunkSize bytes at a time and
// returns the lower-case hex encoding. The context is checked between reads.
func Sum(ctx context.Context, r io.Reader, name string) (string, error) {
	h, err := New(name)
	if err != nil {
		return "", err
	}

	buf := make([]byte, ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read for checksum: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumBytes is Sum over an in-memory buffer.
func SumBytes(data []byte, name string) (string, error) {
	h, err := New(name)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
