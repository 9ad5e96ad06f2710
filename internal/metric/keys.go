package metric

import (
	"strconv"
	"strings"

	"DealMetrics/internal/store"
)

// seedAccountKey fills the (server, login) fields of a zero state from its
// canonical key path, so a first-seen key starts with its key fields set.
func seedAccountKey(key store.Key, server *string, login *int64) {
	for _, part := range strings.Split(string(key), "|") {
		if v, ok := strings.CutPrefix(part, "server:"); ok {
			*server = v
		}
		if v, ok := strings.CutPrefix(part, "login:"); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*login = n
			}
		}
	}
}

// seedPositionKey fills the (server, position_id) fields of a zero state.
func seedPositionKey(key store.Key, server *string, positionID *int64) {
	for _, part := range strings.Split(string(key), "|") {
		if v, ok := strings.CutPrefix(part, "server:"); ok {
			*server = v
		}
		if v, ok := strings.CutPrefix(part, "position:"); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*positionID = n
			}
		}
	}
}
