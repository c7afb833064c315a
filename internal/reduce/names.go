package reduce

import (
	"maps"

	"github.com/tallyworks/tally/internal/types"
)

// Names reduces the creator-name registry.
func Names(s types.NamesState, a types.Action) types.NamesState {
	switch p := a.Payload.(type) {
	case *types.CreateName:
		if p.Name == "" || s.Names[p.Name] {
			return s
		}
		names := maps.Clone(s.Names)
		if names == nil {
			names = make(map[string]bool)
		}
		names[p.Name] = true
		s.Names = names
	case *types.RemoveName:
		if !s.Names[p.Name] {
			return s
		}
		names := maps.Clone(s.Names)
		delete(names, p.Name)
		s.Names = names
	}
	return s
}
