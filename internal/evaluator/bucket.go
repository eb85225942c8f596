package evaluator

import (
	"crypto/md5"
	"encoding/binary"
)

// Bucket maps a (flagKey, userID) pair to a stable integer in [0, 100).
//
// The derivation is part of the public rollout contract and must be
// reproducible bit-for-bit across instances and across SDK implementations
// in other languages: MD5 over the UTF-8 bytes of "flagKey:userID", first
// 8 hex characters of the digest (i.e. the first 4 bytes, big-endian) parsed
// as an unsigned 32-bit integer, reduced modulo 100.
//
// MD5 is used as a fast, uniformly distributed hash, not for security.
// Pure byte arithmetic only: no locale, no floating point, no map iteration.
func Bucket(flagKey, userID string) int {
	sum := md5.Sum([]byte(flagKey + ":" + userID))
	return int(binary.BigEndian.Uint32(sum[:4]) % 100)
}
