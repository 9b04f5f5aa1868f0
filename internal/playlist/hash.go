package playlist

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// canonicalDocument is the hashed projection of a Document. The version field
// is excluded: it bumps on every persisted push and would defeat no-op
// detection. Field order is fixed by the struct layout and map keys marshal
// sorted, so the serialization is deterministic.
type canonicalDocument struct {
	Remote           *Remote           `json:"remote,omitempty"`
	Auth             *Auth             `json:"auth,omitempty"`
	Sync             *Sync             `json:"sync,omitempty"`
	Sponsors         []Sponsor         `json:"sponsors"`
	Categories       []Category        `json:"categories"`
	TimeCategories   []TimeCategory    `json:"timeCategories"`
	CategoryMappings map[string]string `json:"categoryMappings"`
}

// Hash computes the content hash of a normalized document. Two documents with
// the same content hash the same regardless of how they were produced, which
// is what lets a push be reported as a no-op.
func Hash(doc Document) string {
	canonical := canonicalDocument{
		Remote:           doc.Remote,
		Auth:             doc.Auth,
		Sync:             doc.Sync,
		Sponsors:         doc.Sponsors,
		Categories:       doc.Categories,
		TimeCategories:   doc.TimeCategories,
		CategoryMappings: doc.CategoryMappings,
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		// Marshaling a tree of plain structs and strings cannot fail.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
