package cache

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"strings"
)

// KeyFor builds the canonical request signature: method, path and the query
// parameters sorted by name. Two requests share a key only if all three match.
func KeyFor(method, path string, params map[string]string) string {
	if method == "" {
		method = "GET"
	}
	key := strings.ToUpper(method) + " " + path
	if len(params) == 0 {
		return key
	}
	q := make(url.Values, len(params))
	for k, v := range params {
		q.Set(k, v)
	}
	// Encode sorts by key.
	return key + "?" + q.Encode()
}

// fileName makes a storage key safe for use as a file name.
func fileName(key string) string {
	// Very long keys are hashed to stay under filesystem limits.
	if len(key) > 200 {
		return fmt.Sprintf("hash_%x.json", md5.Sum([]byte(key)))
	}

	r := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "?", "_", "&", "_", "=", "_",
		"#", "_", "<", "_", ">", "_", "|", "_", "*", "_", "\"", "_", " ", "_",
		"%", "_",
	)
	// Replacement is lossy, so a short hash of the original keeps "a/b" and
	// "a_b" in different files.
	sum := md5.Sum([]byte(key))
	return fmt.Sprintf("%s_%x.json", r.Replace(key), sum[:4])
}
