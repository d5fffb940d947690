package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// DefaultNamespace prefixes every durable key so bulk invalidation only
// touches this cache's keys in a shared store.
const DefaultNamespace = "rag:query:"

// keyDigestLen is the number of hex characters kept from the digest.
const keyDigestLen = 16

// Scope narrows a cached result to the caller it was produced for.
// SessionID selects the short TTL tier and is not part of the key.
type Scope struct {
	TenantID      string
	DivisionID    string
	ApplicationID string
	SessionID     string
}

// IsSession reports whether the scope is bound to a conversation.
func (s Scope) IsSession() bool {
	return s.SessionID != ""
}

// BuildKey derives the durable key for a normalized query under scope.
// Each field is length-prefixed so distinct scopes cannot collide.
func BuildKey(namespace, normalized string, scope Scope) string {
	return namespace + digest(normalized, scope.TenantID, scope.DivisionID, scope.ApplicationID)
}

// Partition returns a digest of the tenant fields, empty for the zero scope.
// It separates tenants in the in-process tier, which has no namespace.
func (s Scope) Partition() string {
	if s.TenantID == "" && s.DivisionID == "" && s.ApplicationID == "" {
		return ""
	}
	return digest(s.TenantID, s.DivisionID, s.ApplicationID)
}

func digest(fields ...string) string {
	var b strings.Builder
	for _, field := range fields {
		b.WriteString(strconv.Itoa(len(field)))
		b.WriteByte(':')
		b.WriteString(field)
		b.WriteByte('|')
	}

	h := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(h[:])[:keyDigestLen]
}
