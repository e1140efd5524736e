package utils

import (
	"crypto/md5"
	"sort"
	"strings"

	"github.com/gofrs/uuid"
)

const nilUuid = "00000000-0000-0000-0000-000000000000"

// DeriveUuid maps a set of identifying strings to a stable uuid. Input order
// does not matter; the parts are sorted before hashing.
func DeriveUuid(parts ...string) string {
	if len(parts) == 0 {
		parts = []string{nilUuid}
	}

	sorted := make([]string, len(parts))
	copy(sorted, parts)
	sort.Strings(sorted)

	return uuidHash([]byte(strings.Join(sorted, "")))
}

func uuidHash(b []byte) string {
	h := md5.New()
	h.Write(b)

	sum := h.Sum(nil)
	sum[6] = (sum[6] & 0x0f) | 0x30
	sum[8] = (sum[8] & 0x3f) | 0x80
	return uuid.FromBytesOrNil(sum).String()
}
