// Package fingerprint derives the deterministic document ids used by the cache
// and the embedding store. A fingerprint is the lowercase hex md5 digest of the
// request content; it is a content address, not a security boundary.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
)

// Size is the length in characters of every fingerprint.
const Size = md5.Size * 2

// Concat hashes the parts joined with no delimiter.
//
// This is the scheme used by existing caches, so ("ab", "cd") and ("a", "bcd")
// produce the same fingerprint. Use it only where compatibility with data that
// is already stored matters more than that ambiguity.
func Concat(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Framed hashes every part prefixed with its byte length, "<len>:<part>", so
// that no two distinct part sequences share a hashed input.
func Framed(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte{':'})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
