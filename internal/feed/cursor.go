package feed

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// cursor addresses an offset into a ranking bound to one generation.
// firstPage is the page-1 size the ranking was built for, so an evicted
// ranking can be rebuilt with its guaranteed slots in the same positions.
type cursor struct {
	generation int64
	offset     int
	firstPage  int
}

func (c cursor) encode() string {
	raw := strconv.FormatInt(c.generation, 10) + ":" + strconv.Itoa(c.offset) + ":" + strconv.Itoa(c.firstPage)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func parseCursor(s string) (cursor, error) {
	if s == "" {
		return cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, invalid("cursor", "malformed cursor")
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 {
		return cursor{}, invalid("cursor", "malformed cursor")
	}
	gen, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || gen <= 0 {
		return cursor{}, invalid("cursor", "malformed cursor")
	}
	off, err := strconv.Atoi(parts[1])
	if err != nil || off < 0 {
		return cursor{}, invalid("cursor", "malformed cursor")
	}
	first, err := strconv.Atoi(parts[2])
	if err != nil || first < 1 || first > MaxLimit {
		return cursor{}, invalid("cursor", "malformed cursor")
	}
	return cursor{generation: gen, offset: off, firstPage: first}, nil
}
