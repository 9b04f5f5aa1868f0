package playlist

import (
	"errors"
	"reflect"
	"testing"

	"neoproctl/internal/types"
)

func localDoc() Document {
	doc := Document{
		Version: 3,
		Remote:  &Remote{Title: "Mon Club TV"},
		Auth:    &Auth{Password: "secret", ClubName: "Mon Club", SessionDuration: 60},
		Sponsors: []Sponsor{
			{Name: "Boulangerie", Type: "image", Path: "/sponsors/boulangerie.png", Owner: OwnerClub},
		},
		Categories: []Category{
			{
				ID:    "c1",
				Name:  "Mon Club",
				Owner: OwnerClub,
				Videos: []Video{
					{Name: "Finale 2025", Path: "/videos/finale.mp4", Type: "match", Owner: OwnerClub},
				},
			},
			{
				ID:    "c2",
				Name:  "Old Sponsors",
				Owner: OwnerNeoPro,
				Videos: []Video{
					{Name: "Old Promo", Path: "/videos/old-promo.mp4", Type: "promo", Owner: OwnerNeoPro},
				},
			},
		},
	}
	Normalize(&doc)
	return doc
}

func TestMergeKeepsClubAddsNeoPro(t *testing.T) {
	local := Document{
		Categories: []Category{{ID: "c1", Name: "Mon Club", Owner: OwnerClub}},
	}
	Normalize(&local)
	incoming := Document{
		Categories: []Category{{ID: "c2", Name: "Sponsors"}},
	}

	merged, err := Merge(local, incoming)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(merged.Categories) != 2 {
		t.Fatalf("Expected 2 categories, got %d", len(merged.Categories))
	}
	c1 := merged.Categories[0]
	if c1.ID != "c1" || c1.Owner != OwnerClub || c1.Locked || c1.Name != "Mon Club" {
		t.Errorf("Club category changed by merge: %+v", c1)
	}
	c2 := merged.Categories[1]
	if c2.ID != "c2" || c2.Owner != OwnerNeoPro || !c2.Locked {
		t.Errorf("New central category not neopro-owned and locked: %+v", c2)
	}
}

func TestMergeDeletesNeoProByOmission(t *testing.T) {
	local := Document{
		Categories: []Category{{ID: "c2", Name: "Old Sponsors", Owner: OwnerNeoPro}},
	}
	Normalize(&local)
	incoming := Document{Categories: []Category{}}

	merged, err := Merge(local, incoming)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(merged.Categories) != 0 {
		t.Errorf("Omitted neopro category survived: %+v", merged.Categories)
	}
}

func TestMergeReplacesContentPreservesClubChildren(t *testing.T) {
	local := localDoc()
	incoming := Document{
		Categories: []Category{
			{
				ID:   "c1",
				Name: "Mon Club (officiel)",
				Videos: []Video{
					{Name: "Intro", Path: "/videos/intro.mp4", Type: "promo"},
				},
			},
		},
	}

	merged, err := Merge(local, incoming)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(merged.Categories) != 1 {
		t.Fatalf("Expected 1 category, got %d", len(merged.Categories))
	}
	cat := merged.Categories[0]
	if cat.Name != "Mon Club (officiel)" || cat.Owner != OwnerNeoPro || !cat.Locked {
		t.Errorf("Matched category not taken over by central: %+v", cat)
	}
	var club, central bool
	for _, v := range cat.Videos {
		switch v.Path {
		case "/videos/finale.mp4":
			club = true
			if v.Owner != OwnerClub {
				t.Errorf("Club video lost its owner: %+v", v)
			}
		case "/videos/intro.mp4":
			central = true
			if v.Owner != OwnerNeoPro || !v.Locked {
				t.Errorf("Central video not neopro-owned: %+v", v)
			}
		}
	}
	if !club || !central {
		t.Errorf("Expected both club and central videos, got %+v", cat.Videos)
	}
}

func TestMergeIdempotent(t *testing.T) {
	local := localDoc()
	incoming := Document{
		Remote: &Remote{Title: "NeoPro TV"},
		Sponsors: []Sponsor{
			{Name: "NeoPro", Type: "image", Path: "/sponsors/neopro.png"},
		},
		Categories: []Category{
			{
				ID:   "c2",
				Name: "Sponsors",
				SubCategories: []Category{
					{ID: "c2a", Name: "National", Videos: []Video{{Name: "Spot", Path: "/videos/spot.mp4", Type: "promo"}}},
				},
			},
		},
	}

	once, err := Merge(local, incoming)
	if err != nil {
		t.Fatalf("First merge failed: %v", err)
	}
	twice, err := Merge(once, incoming)
	if err != nil {
		t.Fatalf("Second merge failed: %v", err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Merge is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestMergeScalarSectionsByPresence(t *testing.T) {
	local := localDoc()

	merged, err := Merge(local, Document{Auth: &Auth{Password: "new", ClubName: "Mon Club", SessionDuration: 30}})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if merged.Auth.Password != "new" || merged.Auth.SessionDuration != 30 {
		t.Errorf("Present auth section was not replaced wholesale: %+v", merged.Auth)
	}
	if merged.Remote == nil || merged.Remote.Title != "Mon Club TV" {
		t.Errorf("Absent remote section was touched: %+v", merged.Remote)
	}
	// Absent collections leave local content alone, including neopro nodes.
	if len(merged.Categories) != 2 {
		t.Errorf("Absent categories collection mutated local tree: %+v", merged.Categories)
	}
}

func TestMergeRejectsMissingIDs(t *testing.T) {
	tests := []struct {
		name     string
		incoming Document
	}{
		{"category without id", Document{Categories: []Category{{Name: "No ID"}}}},
		{"nested category without id", Document{Categories: []Category{
			{ID: "c1", SubCategories: []Category{{Name: "No ID"}}},
		}}},
		{"video without path", Document{Categories: []Category{
			{ID: "c1", Videos: []Video{{Name: "No Path"}}},
		}}},
		{"sponsor without name", Document{Sponsors: []Sponsor{{Path: "/s.png"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(localDoc(), tt.incoming)
			if !errors.Is(err, types.ErrMergeConflict) {
				t.Errorf("Merge() error = %v, want ErrMergeConflict", err)
			}
		})
	}
}

func TestHashDetectsNoOpPush(t *testing.T) {
	local := localDoc()
	// A payload restating exactly what the central side already owns.
	incoming := Document{
		Categories: []Category{
			{
				ID:   "c2",
				Name: "Old Sponsors",
				Videos: []Video{
					{Name: "Old Promo", Path: "/videos/old-promo.mp4", Type: "promo"},
				},
			},
		},
	}

	merged, err := Merge(local, incoming)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if Hash(merged) != Hash(local) {
		t.Errorf("No-op push changed the content hash")
	}
}

func TestHashIgnoresVersion(t *testing.T) {
	a := localDoc()
	b := localDoc()
	b.Version = 99
	if Hash(a) != Hash(b) {
		t.Error("Hash depends on the version field")
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a := localDoc()
	b := localDoc()
	b.Categories[0].Name = "Renamed"
	if Hash(a) == Hash(b) {
		t.Error("Content change did not change the hash")
	}
}

func TestNormalizeFillsCollectionsAndLocked(t *testing.T) {
	doc := Document{
		Categories: []Category{
			{ID: "c1", Owner: OwnerNeoPro, Locked: false},
			{ID: "c2"},
		},
	}
	Normalize(&doc)

	if doc.Sponsors == nil || doc.TimeCategories == nil || doc.CategoryMappings == nil {
		t.Error("Normalize left nil collections")
	}
	if !doc.Categories[0].Locked {
		t.Error("neopro-owned category not locked after Normalize")
	}
	if doc.Categories[1].Owner != OwnerClub || doc.Categories[1].Locked {
		t.Errorf("untagged category should default to unlocked club ownership: %+v", doc.Categories[1])
	}
	if doc.Categories[0].Videos == nil || doc.Categories[0].SubCategories == nil {
		t.Error("Normalize left nil child collections")
	}
}
