package reduce

import (
	"maps"

	"github.com/tallyworks/tally/internal/types"
)

// Photos reduces the attached-image index: every URL that has reached a
// listing or item is recorded so the upload pipeline can skip it.
func Photos(s types.PhotosState, a types.Action) types.PhotosState {
	switch p := a.Payload.(type) {
	case *types.AddListingImage:
		return attachPhoto(s, types.PhotoRecord{URL: p.URL, Handle: p.Handle})
	case *types.UpdateItem:
		if p.Item.Image == "" {
			return s
		}
		return attachPhoto(s, types.PhotoRecord{URL: p.Item.Image, ItemKey: p.Item.Key()})
	case *types.UpdateField:
		if p.Field != "image" {
			return s
		}
		url := asString(p.To)
		if url == "" {
			return s
		}
		return attachPhoto(s, types.PhotoRecord{URL: url, ItemKey: p.ID})
	case *types.BulkImportItems:
		out := s
		for _, u := range p.Updates {
			switch {
			case u.Image != nil && *u.Image != "":
				out = attachPhoto(out, types.PhotoRecord{URL: *u.Image, ItemKey: u.Key})
			case u.New != nil && u.New.Image != "":
				out = attachPhoto(out, types.PhotoRecord{URL: u.New.Image, ItemKey: u.Key})
			}
		}
		return out
	}
	return s
}

func attachPhoto(s types.PhotosState, rec types.PhotoRecord) types.PhotosState {
	if rec.URL == "" {
		return s
	}
	if existing, ok := s.Attached[rec.URL]; ok && existing == rec {
		return s
	}
	attached := maps.Clone(s.Attached)
	if attached == nil {
		attached = make(map[string]types.PhotoRecord)
	}
	attached[rec.URL] = rec
	s.Attached = attached
	return s
}
