// Package playlist models the player configuration document exchanged with
// club devices and implements the ownership-aware merge, canonical hashing,
// and structural diff used by content deployments.
package playlist

import "encoding/json"

// Owner marks who authored a configuration node and therefore who may
// overwrite it during a merge.
type Owner string

const (
	OwnerClub   Owner = "club"
	OwnerNeoPro Owner = "neopro"
)

// Document is the full player configuration for one site. The scalar sections
// are pointers so a centrally-authored payload can distinguish "replace this
// section" from "leave it alone".
type Document struct {
	Version          int               `json:"version"`
	Remote           *Remote           `json:"remote,omitempty"`
	Auth             *Auth             `json:"auth,omitempty"`
	Sync             *Sync             `json:"sync,omitempty"`
	Sponsors         []Sponsor         `json:"sponsors"`
	Categories       []Category        `json:"categories"`
	TimeCategories   []TimeCategory    `json:"timeCategories"`
	CategoryMappings map[string]string `json:"categoryMappings"`
}

// Remote configures the remote-control surface on the device.
type Remote struct {
	Title string `json:"title"`
}

// Auth configures device-local authentication.
type Auth struct {
	Password        string `json:"password"`
	ClubName        string `json:"clubName"`
	SessionDuration int    `json:"sessionDuration"`
}

// Sync configures the device's phone-home settings.
type Sync struct {
	Enabled   bool   `json:"enabled"`
	ServerURL string `json:"serverUrl"`
	SiteName  string `json:"siteName"`
	ClubName  string `json:"clubName"`
}

// Sponsor is a sponsor asset shown between videos. Sponsors have no stable id
// in the exchange format; the name is the merge key.
type Sponsor struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Path   string `json:"path"`
	Owner  Owner  `json:"owner"`
	Locked bool   `json:"locked"`
}

// Video is a playable item within a category. The path is the merge key.
type Video struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Type   string `json:"type"`
	Owner  Owner  `json:"owner"`
	Locked bool   `json:"locked"`
}

// Category is a node in the content tree, keyed by its stable id.
type Category struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Owner         Owner      `json:"owner"`
	Locked        bool       `json:"locked"`
	Videos        []Video    `json:"videos"`
	SubCategories []Category `json:"subCategories"`
}

// TimeCategory is one of the fixed time-of-day buckets referencing categories.
type TimeCategory struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Icon        string   `json:"icon"`
	Description string   `json:"description"`
	CategoryIDs []string `json:"categoryIds"`
}

// Decode parses a document and normalizes it in one step, so everything
// downstream sees a fully-populated tree.
func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	Normalize(&doc)
	return doc, nil
}

// Normalize fills every optional collection and realigns the locked flag with
// the owner tag, recursively. It runs once at the system boundary; all code
// past it assumes non-nil slices and maps and a consistent locked flag.
func Normalize(doc *Document) {
	if doc.Sponsors == nil {
		doc.Sponsors = []Sponsor{}
	}
	if doc.Categories == nil {
		doc.Categories = []Category{}
	}
	if doc.TimeCategories == nil {
		doc.TimeCategories = []TimeCategory{}
	}
	if doc.CategoryMappings == nil {
		doc.CategoryMappings = map[string]string{}
	}
	for i := range doc.Sponsors {
		if doc.Sponsors[i].Owner == "" {
			doc.Sponsors[i].Owner = OwnerClub
		}
		doc.Sponsors[i].Locked = doc.Sponsors[i].Owner == OwnerNeoPro
	}
	for i := range doc.Categories {
		normalizeCategory(&doc.Categories[i])
	}
	for i := range doc.TimeCategories {
		if doc.TimeCategories[i].CategoryIDs == nil {
			doc.TimeCategories[i].CategoryIDs = []string{}
		}
	}
}

func normalizeCategory(cat *Category) {
	if cat.Owner == "" {
		cat.Owner = OwnerClub
	}
	cat.Locked = cat.Owner == OwnerNeoPro
	if cat.Videos == nil {
		cat.Videos = []Video{}
	}
	if cat.SubCategories == nil {
		cat.SubCategories = []Category{}
	}
	for i := range cat.Videos {
		if cat.Videos[i].Owner == "" {
			cat.Videos[i].Owner = OwnerClub
		}
		cat.Videos[i].Locked = cat.Videos[i].Owner == OwnerNeoPro
	}
	for i := range cat.SubCategories {
		normalizeCategory(&cat.SubCategories[i])
	}
}
