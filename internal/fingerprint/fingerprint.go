// Package fingerprint derives stable article identities from URLs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/crypto-morph/newsfinder/internal/domain"
)

// DefaultDenyParams lists query parameters treated as tracking noise.
// Entries ending in "*" match by prefix.
var DefaultDenyParams = []string{
	"utm_*",
	"fbclid",
	"gclid",
	"dclid",
	"msclkid",
	"mc_cid",
	"mc_eid",
	"cmpid",
	"ref",
	"ref_src",
	"at_medium",
	"at_campaign",
}

// Options controls URL normalization.
type Options struct {
	// DenyParams are dropped from the query. Ignored when AllowParams is set.
	DenyParams []string
	// AllowParams, when non-empty, is the only set of parameters kept.
	AllowParams []string
	StripWWW    bool
}

// Normalizer canonicalizes URLs and hashes them into fingerprints.
type Normalizer struct {
	denyExact  map[string]struct{}
	denyPrefix []string
	allow      map[string]struct{}
	stripWWW   bool
}

// New builds a normalizer. A nil DenyParams falls back to DefaultDenyParams.
func New(opts Options) *Normalizer {
	deny := opts.DenyParams
	if deny == nil {
		deny = DefaultDenyParams
	}

	n := &Normalizer{
		denyExact: map[string]struct{}{},
		stripWWW:  opts.StripWWW,
	}
	for _, p := range deny {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "*") {
			n.denyPrefix = append(n.denyPrefix, strings.TrimSuffix(p, "*"))
			continue
		}
		n.denyExact[p] = struct{}{}
	}
	if len(opts.AllowParams) > 0 {
		n.allow = map[string]struct{}{}
		for _, p := range opts.AllowParams {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				n.allow[p] = struct{}{}
			}
		}
	}
	return n
}

// Normalize returns the canonical form of an article URL.
func (n *Normalizer) Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("normalize url: empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("normalize url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("normalize url: unsupported scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("normalize url: missing host in %q", raw)
	}
	if n.stripWWW {
		host = strings.TrimPrefix(host, "www.")
	}
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host = host + ":" + port
	}

	path := strings.TrimRight(u.EscapedPath(), "/")

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)

	if query := n.filterQuery(u.Query()); len(query) > 0 {
		b.WriteString("?")
		b.WriteString(query.Encode())
	}

	return b.String(), nil
}

// Fingerprint normalizes the URL and returns its sha256 identity.
func (n *Normalizer) Fingerprint(raw string) (domain.Fingerprint, error) {
	normalized, err := n.Normalize(raw)
	if err != nil {
		return "", err
	}
	return Of(normalized), nil
}

// Of hashes an already normalized URL.
func Of(normalized string) domain.Fingerprint {
	sum := sha256.Sum256([]byte(normalized))
	return domain.Fingerprint(hex.EncodeToString(sum[:]))
}

func (n *Normalizer) filterQuery(values url.Values) url.Values {
	if len(values) == 0 {
		return nil
	}

	kept := url.Values{}
	for key, vals := range values {
		lower := strings.ToLower(key)
		if n.allow != nil {
			if _, ok := n.allow[lower]; !ok {
				continue
			}
		} else if n.denied(lower) {
			continue
		}
		kept[key] = vals
	}
	return kept
}

func (n *Normalizer) denied(key string) bool {
	if _, ok := n.denyExact[key]; ok {
		return true
	}
	for _, prefix := range n.denyPrefix {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}
