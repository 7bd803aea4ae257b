package core

import (
	"strconv"
	"strings"
)

func parsePort(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// splitVerb splits a control message into its command verb and the
// remainder, trimming surrounding whitespace from both.
func splitVerb(message string) (verb, arg string) {
	message = strings.TrimSpace(message)
	i := strings.IndexByte(message, ' ')
	if i < 0 {
		return message, ""
	}
	return message[:i], strings.TrimSpace(message[i+1:])
}
