package channel

import "strconv"

// SenderID is "{id}" or "{id}|{username}" when the user has a username.
func SenderID(userID int64, username string) string {
	id := strconv.FormatInt(userID, 10)
	if username == "" {
		return id
	}
	return id + "|" + username
}

// Allowed reports whether a sender passes allow. An empty list allows
// everyone; otherwise either the composite id|username or the bare id must
// be listed.
func Allowed(allow []string, userID int64, username string) bool {
	if len(allow) == 0 {
		return true
	}
	composite := SenderID(userID, username)
	bare := strconv.FormatInt(userID, 10)
	for _, a := range allow {
		if a == composite || a == bare {
			return true
		}
	}
	return false
}
