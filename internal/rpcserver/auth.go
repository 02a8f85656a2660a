package rpcserver

import "crypto/subtle"

const bearerPrefix = "mcp_key_"
const tokenLen = len(bearerPrefix) + 48 // prefix + 48 hex chars (spec §4.9)

// validToken compares presented against every entry in whitelist. The
// prefix/length check is a cheap fast-reject; the whitelist comparison
// itself always runs subtle.ConstantTimeCompare against every candidate
// with no early exit, so timing does not leak which prefix of a valid token
// was matched (testable property 6).
func validToken(presented string, whitelist []string) bool {
	if len(presented) != tokenLen || presented[:len(bearerPrefix)] != bearerPrefix {
		return false
	}
	var matched int
	for _, want := range whitelist {
		if len(want) != tokenLen {
			continue
		}
		matched |= subtle.ConstantTimeCompare([]byte(presented), []byte(want))
	}
	return matched == 1
}
