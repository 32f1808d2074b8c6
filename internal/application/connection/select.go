package connection

// SelectURL picks the endpoint to connect to. A persisted URL wins unless it is
// blacklisted; otherwise the first candidate that is not blacklisted is used.
// When every candidate is blacklisted, exhausted is true and the choice is made
// as if the blacklist were empty. The result depends only on its inputs.
func SelectURL(candidates []string, blacklist map[string]struct{}, persisted string) (url string, exhausted bool) {
	if persisted != "" {
		if _, bad := blacklist[persisted]; !bad {
			return persisted, false
		}
	}
	for _, c := range candidates {
		if _, bad := blacklist[c]; !bad {
			return c, false
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	if persisted != "" {
		return persisted, true
	}
	return candidates[0], true
}
