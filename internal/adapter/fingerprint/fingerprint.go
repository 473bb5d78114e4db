// Package fingerprint derives stable 64-bit content hashes.
package fingerprint

import (
	"strconv"

	"github.com/minio/highwayhash"
)

var key = []byte("kbrag-fingerprint-key-0123456789")

// Sum64 hashes data with HighwayHash-64.
func Sum64(data []byte) (uint64, error) {
	h, err := highwayhash.New64(key)
	if err != nil {
		return 0, err
	}
	if _, err = h.Write(data); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// Of hashes the given parts, separated by a zero byte, and returns the
// hash as a 16-character hex string.
func Of(parts ...string) string {
	var buf []byte
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, 0)
		}
		buf = append(buf, p...)
	}
	sum, err := Sum64(buf)
	if err != nil {
		// only possible with a key that is not 32 bytes long
		panic(err)
	}
	s := strconv.FormatUint(sum, 16)
	for len(s) < 16 {
		s = "0" + s
	}
	return s
}
