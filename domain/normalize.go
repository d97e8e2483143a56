package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are stripped during URL normalization; they vary the URL
// without changing the resource it identifies.
var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true, "gclid": true, "fbclid": true,
	"ref": true, "mc_cid": true, "mc_eid": true,
}

// NormalizeURL lower-cases scheme and host, strips the fragment and known
// tracking query parameters, and removes a trailing slash from the path.
// Invariant: NormalizeURL(NormalizeURL(u)) == NormalizeURL(u).
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if trackingParams[strings.ToLower(k)] {
				q.Del(k)
			}
		}
		u.RawQuery = q.Encode()
	}

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}

// FactHash is the dedup key for a fact statement: lowercase, trimmed,
// whitespace-collapsed, then hashed. Two statements that differ only in
// case or surrounding whitespace collide on purpose.
func FactHash(statement string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(statement))), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// Tokenize splits a statement into a lowercase word set for Jaccard
// comparison.
func Tokenize(statement string) map[string]bool {
	words := strings.Fields(strings.ToLower(statement))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if w != "" {
			set[w] = true
		}
	}
	return set
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "of": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "and": true, "or": true, "by": true, "with": true, "it": true,
	"that": true, "this": true, "as": true, "be": true, "has": true, "have": true,
}

// TokenizeNonStopWords is Tokenize with common stop words removed, used by
// the contradiction detector's related-topic check.
func TokenizeNonStopWords(statement string) map[string]bool {
	set := Tokenize(statement)
	for w := range set {
		if stopWords[w] {
			delete(set, w)
		}
	}
	return set
}

// Jaccard computes |A∩B| / |A∪B| over two word sets. Returns 0 when both
// sets are empty.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// SortedKeys returns the map's keys in sorted order, used wherever a
// deterministic iteration order over a map-keyed collection is required.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
