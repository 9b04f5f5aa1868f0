package playlist

import (
	"fmt"

	"neoproctl/internal/types"
)

// Merge combines a site's local document with a centrally-authored payload.
//
// The local document must be normalized (see Decode). The incoming payload is
// taken as decoded, because nil-ness carries meaning there: a scalar section
// or top-level collection that is absent from the payload leaves the local one
// untouched, while a present-but-empty collection deletes every centrally
// owned node by omission.
//
// Per-node rules, applied at every level of the tree:
//   - node in both: incoming content wins, owner becomes neopro, locally
//     present club-owned children survive
//   - node only in incoming: inserted as a new neopro-owned subtree
//   - node only in local: kept if club-owned, deleted if neopro-owned
//
// Matching is by stable key (category id, video path, sponsor name), never by
// position, which makes the merge idempotent and order-independent.
func Merge(local, incoming Document) (Document, error) {
	if err := validateIncoming(incoming); err != nil {
		return Document{}, err
	}

	merged := local
	if incoming.Remote != nil {
		r := *incoming.Remote
		merged.Remote = &r
	}
	if incoming.Auth != nil {
		a := *incoming.Auth
		merged.Auth = &a
	}
	if incoming.Sync != nil {
		s := *incoming.Sync
		merged.Sync = &s
	}
	if incoming.Sponsors != nil {
		merged.Sponsors = mergeSponsors(local.Sponsors, incoming.Sponsors)
	}
	if incoming.Categories != nil {
		merged.Categories = mergeCategories(local.Categories, incoming.Categories)
	}
	if incoming.TimeCategories != nil {
		merged.TimeCategories = append([]TimeCategory(nil), incoming.TimeCategories...)
	}
	if incoming.CategoryMappings != nil {
		mappings := make(map[string]string, len(incoming.CategoryMappings))
		for k, v := range incoming.CategoryMappings {
			mappings[k] = v
		}
		merged.CategoryMappings = mappings
	}

	Normalize(&merged)
	return merged, nil
}

func mergeCategories(local, incoming []Category) []Category {
	index := make(map[string]Category, len(incoming))
	for _, inc := range incoming {
		index[inc.ID] = inc
	}

	out := make([]Category, 0, len(local)+len(incoming))
	matched := make(map[string]bool, len(local))
	for _, loc := range local {
		inc, ok := index[loc.ID]
		if !ok {
			if loc.Owner == OwnerClub {
				out = append(out, loc)
			}
			continue
		}
		matched[loc.ID] = true
		out = append(out, Category{
			ID:            loc.ID,
			Name:          inc.Name,
			Owner:         OwnerNeoPro,
			Locked:        true,
			Videos:        mergeVideos(loc.Videos, inc.Videos),
			SubCategories: mergeCategories(loc.SubCategories, inc.SubCategories),
		})
	}
	for _, inc := range incoming {
		if !matched[inc.ID] {
			out = append(out, forceNeoProCategory(inc))
		}
	}
	return out
}

func mergeVideos(local, incoming []Video) []Video {
	index := make(map[string]Video, len(incoming))
	for _, inc := range incoming {
		index[inc.Path] = inc
	}

	out := make([]Video, 0, len(local)+len(incoming))
	matched := make(map[string]bool, len(local))
	for _, loc := range local {
		inc, ok := index[loc.Path]
		if !ok {
			if loc.Owner == OwnerClub {
				out = append(out, loc)
			}
			continue
		}
		matched[loc.Path] = true
		out = append(out, Video{
			Name:   inc.Name,
			Path:   loc.Path,
			Type:   inc.Type,
			Owner:  OwnerNeoPro,
			Locked: true,
		})
	}
	for _, inc := range incoming {
		if !matched[inc.Path] {
			inc.Owner = OwnerNeoPro
			inc.Locked = true
			out = append(out, inc)
		}
	}
	return out
}

func mergeSponsors(local, incoming []Sponsor) []Sponsor {
	index := make(map[string]Sponsor, len(incoming))
	for _, inc := range incoming {
		index[inc.Name] = inc
	}

	out := make([]Sponsor, 0, len(local)+len(incoming))
	matched := make(map[string]bool, len(local))
	for _, loc := range local {
		inc, ok := index[loc.Name]
		if !ok {
			if loc.Owner == OwnerClub {
				out = append(out, loc)
			}
			continue
		}
		matched[loc.Name] = true
		out = append(out, Sponsor{
			Name:   loc.Name,
			Type:   inc.Type,
			Path:   inc.Path,
			Owner:  OwnerNeoPro,
			Locked: true,
		})
	}
	for _, inc := range incoming {
		if !matched[inc.Name] {
			inc.Owner = OwnerNeoPro
			inc.Locked = true
			out = append(out, inc)
		}
	}
	return out
}

func forceNeoProCategory(cat Category) Category {
	cat.Owner = OwnerNeoPro
	cat.Locked = true
	videos := make([]Video, len(cat.Videos))
	for i, v := range cat.Videos {
		v.Owner = OwnerNeoPro
		v.Locked = true
		videos[i] = v
	}
	cat.Videos = videos
	subs := make([]Category, len(cat.SubCategories))
	for i, sub := range cat.SubCategories {
		subs[i] = forceNeoProCategory(sub)
	}
	cat.SubCategories = subs
	return cat
}

// validateIncoming rejects payloads whose nodes lack the stable keys the
// merge matches on. Nothing is mutated before validation passes.
func validateIncoming(doc Document) error {
	for _, s := range doc.Sponsors {
		if s.Name == "" {
			return fmt.Errorf("sponsor with empty name: %w", types.ErrMergeConflict)
		}
	}
	return validateCategories(doc.Categories, "")
}

func validateCategories(cats []Category, parent string) error {
	for _, cat := range cats {
		if cat.ID == "" {
			return fmt.Errorf("category %q under %q has no id: %w", cat.Name, parent, types.ErrMergeConflict)
		}
		for _, v := range cat.Videos {
			if v.Path == "" {
				return fmt.Errorf("video %q in category %q has no path: %w", v.Name, cat.ID, types.ErrMergeConflict)
			}
		}
		if err := validateCategories(cat.SubCategories, cat.ID); err != nil {
			return err
		}
	}
	return nil
}
