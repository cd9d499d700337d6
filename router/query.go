package router

import "strings"

// parseQuery parses a slice of raw UriQuery option values into a key/value
// map, the way uri_query_helper.rs's use of querystring::querify does: each
// option value is first split on '&', since a client may pack multiple
// pairs into a single UriQuery option (`rt=x&if=y`) even though RFC 7252
// also allows the same pairs to arrive as separate option instances; every
// resulting segment is then split on '=' for the key/value pair itself.
//
// A bare key with no '=' (e.g. `?obs`) maps to an empty value, which is
// only useful as a presence check and never satisfies a discovery filter
// expecting a specific value.
func parseQuery(raw []string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for _, q := range raw {
		for _, part := range strings.Split(q, "&") {
			key, value, _ := strings.Cut(part, "=")
			out[key] = value
		}
	}
	return out
}
