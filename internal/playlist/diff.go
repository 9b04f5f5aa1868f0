package playlist

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ChangeType classifies one entry in a structural diff.
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeRemoved ChangeType = "removed"
	ChangeChanged ChangeType = "changed"
)

// Change is one human-reviewable difference between two documents.
type Change struct {
	Path     string     `json:"path"`
	Type     ChangeType `json:"type"`
	OldValue string     `json:"oldValue,omitempty"`
	NewValue string     `json:"newValue,omitempty"`
}

// Diff compares two documents structurally and returns a flat change list,
// sorted by path. A leaf present in both with different values is changed;
// present only in the new document is added; only in the old is removed.
// The derived locked flag is not reported, it always follows the owner.
func Diff(oldDoc, newDoc Document) []Change {
	oldLeaves := flatten(oldDoc)
	newLeaves := flatten(newDoc)

	var changes []Change
	for path, oldVal := range oldLeaves {
		newVal, ok := newLeaves[path]
		switch {
		case !ok:
			changes = append(changes, Change{Path: path, Type: ChangeRemoved, OldValue: oldVal})
		case newVal != oldVal:
			changes = append(changes, Change{Path: path, Type: ChangeChanged, OldValue: oldVal, NewValue: newVal})
		}
	}
	for path, newVal := range newLeaves {
		if _, ok := oldLeaves[path]; !ok {
			changes = append(changes, Change{Path: path, Type: ChangeAdded, NewValue: newVal})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

func flatten(doc Document) map[string]string {
	leaves := make(map[string]string)
	if doc.Remote != nil {
		leaves["remote.title"] = doc.Remote.Title
	}
	if doc.Auth != nil {
		leaves["auth.password"] = doc.Auth.Password
		leaves["auth.clubName"] = doc.Auth.ClubName
		leaves["auth.sessionDuration"] = strconv.Itoa(doc.Auth.SessionDuration)
	}
	if doc.Sync != nil {
		leaves["sync.enabled"] = strconv.FormatBool(doc.Sync.Enabled)
		leaves["sync.serverUrl"] = doc.Sync.ServerURL
		leaves["sync.siteName"] = doc.Sync.SiteName
		leaves["sync.clubName"] = doc.Sync.ClubName
	}
	for _, s := range doc.Sponsors {
		prefix := fmt.Sprintf("sponsors[%s]", s.Name)
		leaves[prefix+".type"] = s.Type
		leaves[prefix+".path"] = s.Path
		leaves[prefix+".owner"] = string(s.Owner)
	}
	flattenCategories(leaves, "categories", doc.Categories)
	for _, tc := range doc.TimeCategories {
		prefix := fmt.Sprintf("timeCategories[%s]", tc.ID)
		leaves[prefix+".name"] = tc.Name
		leaves[prefix+".icon"] = tc.Icon
		leaves[prefix+".description"] = tc.Description
		leaves[prefix+".categoryIds"] = strings.Join(tc.CategoryIDs, ",")
	}
	for id, analyticsID := range doc.CategoryMappings {
		leaves["categoryMappings."+id] = analyticsID
	}
	return leaves
}

func flattenCategories(leaves map[string]string, prefix string, cats []Category) {
	for _, cat := range cats {
		base := fmt.Sprintf("%s[%s]", prefix, cat.ID)
		leaves[base+".name"] = cat.Name
		leaves[base+".owner"] = string(cat.Owner)
		for _, v := range cat.Videos {
			vbase := fmt.Sprintf("%s.videos[%s]", base, v.Path)
			leaves[vbase+".name"] = v.Name
			leaves[vbase+".type"] = v.Type
			leaves[vbase+".owner"] = string(v.Owner)
		}
		flattenCategories(leaves, base+".subCategories", cat.SubCategories)
	}
}
