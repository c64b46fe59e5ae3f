package entities

import "strings"

// TechIDScheme prefixes references that address a blob by technical id.
const TechIDScheme = "techID://"

// BlobAbstract is the metadata stored alongside blob bytes.
type BlobAbstract struct {
	ContentType string `json:"content_type"`
	Length      int    `json:"length"`
}

// Blob is an immutable content-addressed byte string.
type Blob struct {
	TechID      string `json:"tech_id"`
	ContentType string `json:"content_type"`
	Bytes       []byte `json:"-"`
}

// BlobName maps a human name to a technical id.
type BlobName struct {
	Name   string `json:"name"`
	TechID string `json:"tech_id"`
}

// BlobInfo describes a stored blob without its bytes.
type BlobInfo struct {
	TechID string `json:"tech_id"`
	BlobAbstract
}

// TechIDRef builds a techID:// reference.
func TechIDRef(id string) string {
	return TechIDScheme + id
}

// ParseTechIDRef returns the id of a techID:// reference.
func ParseTechIDRef(ref string) (string, bool) {
	if !strings.HasPrefix(ref, TechIDScheme) {
		return "", false
	}
	return strings.TrimPrefix(ref, TechIDScheme), true
}
