package playlist

import "testing"

func findChange(changes []Change, path string) (Change, bool) {
	for _, c := range changes {
		if c.Path == path {
			return c, true
		}
	}
	return Change{}, false
}

func TestDiffClassifiesChanges(t *testing.T) {
	oldDoc := Document{
		Remote: &Remote{Title: "Mon Club TV"},
		Categories: []Category{
			{ID: "c1", Name: "Mon Club", Owner: OwnerClub},
			{ID: "c2", Name: "Old Sponsors", Owner: OwnerNeoPro},
		},
	}
	Normalize(&oldDoc)
	newDoc := Document{
		Remote: &Remote{Title: "NeoPro TV"},
		Categories: []Category{
			{ID: "c1", Name: "Mon Club", Owner: OwnerClub},
			{ID: "c3", Name: "Sponsors", Owner: OwnerNeoPro},
		},
	}
	Normalize(&newDoc)

	changes := Diff(oldDoc, newDoc)

	if c, ok := findChange(changes, "remote.title"); !ok || c.Type != ChangeChanged {
		t.Errorf("remote.title: got %+v, want changed", c)
	} else if c.OldValue != "Mon Club TV" || c.NewValue != "NeoPro TV" {
		t.Errorf("remote.title values: %+v", c)
	}
	if c, ok := findChange(changes, "categories[c2].name"); !ok || c.Type != ChangeRemoved {
		t.Errorf("categories[c2].name: got %+v, want removed", c)
	}
	if c, ok := findChange(changes, "categories[c3].name"); !ok || c.Type != ChangeAdded {
		t.Errorf("categories[c3].name: got %+v, want added", c)
	}
	if _, ok := findChange(changes, "categories[c1].name"); ok {
		t.Error("unchanged leaf reported in diff")
	}
}

func TestDiffEmptyForIdenticalDocuments(t *testing.T) {
	doc := localDoc()
	if changes := Diff(doc, doc); len(changes) != 0 {
		t.Errorf("Diff of identical documents returned %d changes: %+v", len(changes), changes)
	}
}

func TestDiffIsSortedByPath(t *testing.T) {
	oldDoc := localDoc()
	newDoc := Document{}
	Normalize(&newDoc)

	changes := Diff(oldDoc, newDoc)
	if len(changes) == 0 {
		t.Fatal("Expected removals when diffing against an empty document")
	}
	for i := 1; i < len(changes); i++ {
		if changes[i-1].Path > changes[i].Path {
			t.Fatalf("Diff output not sorted: %q before %q", changes[i-1].Path, changes[i].Path)
		}
	}
}

func TestDiffCoversNestedVideos(t *testing.T) {
	oldDoc := localDoc()
	newDoc := localDoc()
	newDoc.Categories[0].Videos[0].Name = "Finale 2026"

	changes := Diff(oldDoc, newDoc)
	c, ok := findChange(changes, "categories[c1].videos[/videos/finale.mp4].name")
	if !ok || c.Type != ChangeChanged {
		t.Fatalf("nested video change not reported: %+v", changes)
	}
	if c.OldValue != "Finale 2025" || c.NewValue != "Finale 2026" {
		t.Errorf("nested video diff values: %+v", c)
	}
}
