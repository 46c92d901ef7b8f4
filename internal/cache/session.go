package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

var sessionUUIDPattern = regexp.MustCompile(`_session_([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})`)

// SessionID derives a prefix-cache session identity from a caller-supplied
// user id: if it matches `…_session_<UUID>…`, the UUID is extracted;
// otherwise the session id is the hex sha256 of the whole user id
// (spec §4.5 "Session identity").
func SessionID(userID string) string {
	if m := sessionUUIDPattern.FindStringSubmatch(userID); m != nil {
		return m[1]
	}
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}
