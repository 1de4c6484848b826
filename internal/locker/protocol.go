package locker

import (
	"encoding/json"
	"strings"
)

// Actions accepted by the lock server.
const (
	ActionLock   = "Lock"
	ActionUnlock = "Unlock"
	ActionGet    = "Get"
	ActionPut    = "Put"
	ActionErase  = "Erase"
)

// Status literals returned by the lock server. Lock/Unlock replies are
// case-folded before comparison; Get/Put/Erase replies are not, because
// stored payloads may be case-sensitive. That asymmetry is part of the
// wire contract and must not be "fixed" on either side.
const (
	StatusLocked     = "locked"
	StatusUnlocked   = "unlocked"
	StatusFailure    = "failure"
	StatusBadPayload = "badpayload"
)

// Request is one wire message: a single line of JSON, newline
// terminated, sent over a fresh TCP connection. Expire is carried as a
// string of seconds for compatibility with existing clients.
type Request struct {
	ID        string `json:"ID"`
	FileName  string `json:"FileName"`
	Action    string `json:"Action"`
	Expire    string `json:"Expire"`
	DataStore string `json:"DataStore,omitempty"`
}

// statusReply is the JSON form of a status response. Servers may also
// answer with the bare literal.
type statusReply struct {
	Status string `json:"status"`
}

// ParseStatus extracts the status from a reply line, accepting both the
// bare literal and the {"status": ...} object form. When casefold is
// set the result is lower-cased before it is returned.
func ParseStatus(line string, casefold bool) string {
	buf := strings.TrimSpace(line)
	if strings.HasPrefix(buf, "{") {
		var sr statusReply
		if err := json.Unmarshal([]byte(buf), &sr); err == nil && sr.Status != "" {
			buf = sr.Status
		}
	}
	if casefold {
		buf = strings.ToLower(buf)
	}
	return buf
}

// IsStatus reports whether buf is one of the protocol's status
// literals.
func IsStatus(buf string) bool {
	switch strings.ToLower(buf) {
	case StatusLocked, StatusUnlocked, StatusFailure, StatusBadPayload:
		return true
	}
	return false
}
