package av

import (
	"maps"
	"slices"
)

// Clone returns a deep copy of d.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Tags = slices.Clone(d.Tags)
	out.Extra = maps.Clone(d.Extra)
	return out
}

// Apply returns a copy of d with every non-nil override applied.
// Extra attributes are merged key by key; Tags, when given, replace the list.
func (d Descriptor) Apply(o DescriptorOverrides) Descriptor {
	out := d.Clone()
	if o.Filename != nil {
		out.Filename = *o.Filename
	}
	if o.Width != nil {
		out.Width = *o.Width
	}
	if o.Height != nil {
		out.Height = *o.Height
	}
	if o.DurationSeconds != nil {
		out.DurationSeconds = *o.DurationSeconds
	}
	if o.Tags != nil {
		out.Tags = slices.Clone(o.Tags)
	}
	if o.Description != nil {
		out.Description = *o.Description
	}
	if o.Folder != nil {
		out.Folder = *o.Folder
	}
	if len(o.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]string, len(o.Extra))
		}
		maps.Copy(out.Extra, o.Extra)
	}
	return out
}

// restoredDescriptor builds the descriptor of a restored version: the media
// attributes come from the source version, the folder comes from the root, and the
// provenance fields name the source.
func restoredDescriptor(source, root Descriptor, fromNumber int64, fromID string) Descriptor {
	out := source.Clone()
	out.Folder = root.Folder
	out.RestoredFrom = fromNumber
	out.RestoredFromID = fromID
	return out
}
