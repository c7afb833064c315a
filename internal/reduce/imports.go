package reduce

import (
	"maps"
	"strings"

	"github.com/tallyworks/tally/internal/types"
)

// Imports reduces the CSV staging buffers. Parsed rows are derived from
// the raw text on demand, so only the text, processed marks and conflict
// resolutions live in state.
func Imports(s types.ImportsState, a types.Action) types.ImportsState {
	switch p := a.Payload.(type) {
	case *types.StageImportText:
		return withBuffer(s, p.Buffer, stageText(s.Buffer(p.Buffer), p.Text))
	case *types.SetImportResolution:
		return withBuffer(s, p.Buffer, setResolution(s.Buffer(p.Buffer), p.Row, p.Choices))
	case *types.ClearImport:
		return withBuffer(s, p.Buffer, types.ImportBuffer{})
	case *types.BulkImportItems:
		return withBuffer(s, p.Source, markProcessed(s.Buffer(p.Source), p.Handled))
	}
	return s
}

func withBuffer(s types.ImportsState, name string, buf types.ImportBuffer) types.ImportsState {
	switch name {
	case types.BufferOrders:
		s.Orders = buf
	default:
		s.Shopify = buf
	}
	return s
}

func stageText(buf types.ImportBuffer, text string) types.ImportBuffer {
	if text == "" {
		return buf
	}
	if buf.Text == "" {
		buf.Text = text
		return buf
	}
	buf.Text = strings.TrimRight(buf.Text, "\n") + "\n" + text
	return buf
}

func setResolution(buf types.ImportBuffer, row int, choices map[string]string) types.ImportBuffer {
	if row < 0 || len(choices) == 0 {
		return buf
	}
	resolutions := maps.Clone(buf.Resolutions)
	if resolutions == nil {
		resolutions = make(map[int]types.ImportResolution)
	}
	resolutions[row] = types.ImportResolution(maps.Clone(choices))
	buf.Resolutions = resolutions
	return buf
}

func markProcessed(buf types.ImportBuffer, handled []int) types.ImportBuffer {
	if len(handled) == 0 {
		return buf
	}
	processed := maps.Clone(buf.Processed)
	if processed == nil {
		processed = make(map[int]bool)
	}
	for _, idx := range handled {
		if idx >= 0 {
			processed[idx] = true
		}
	}
	buf.Processed = processed
	return buf
}
