package server

import (
	"strconv"
	"strings"
)

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseOptionalID(raw string) (*int64, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, true
	}
	id, ok := parseID(trimmed)
	if !ok {
		return nil, false
	}
	return &id, true
}
