package util

import (
	"strings"

	"github.com/google/uuid"
)

// Namespace for deterministic page context hashes.
var pageNamespace = uuid.MustParse("6f0c7a4e-3f7d-4c8a-9a55-2c1f6a1f0c01")

func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + strings.ReplaceAll(id, "-", "")
}

func NewUUID() string {
	return uuid.NewString()
}

// ContextHash derives a stable UUID for a canonical location key within an org.
func ContextHash(orgID, canonicalLocation string) string {
	return uuid.NewSHA1(pageNamespace, []byte(orgID+"\x00"+canonicalLocation)).String()
}

func IsUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}
