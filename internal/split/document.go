package split

import (
	"encoding/json"
	"fmt"

	"github.com/splitpot/splitpot/internal/clock"
)

// Pref is one named preference of the document, e.g. the display name or
// the currency. Prefs merge by name with last-writer-wins, like items.
type Pref struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Changed int64  `json:"changed"`
}

// Document is what gets encrypted and stored: the preferences and the
// split. The local at-rest form keeps the graveyard and Created flags;
// the remote wire form strips them (see Reduce).
type Document struct {
	Prefs []Pref `json:"prefs"`
	Split *Split `json:"split"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Prefs: []Pref{}, Split: New()}
}

// Empty reports whether the document carries no preferences and no
// items.
func (d *Document) Empty() bool {
	return len(d.Prefs) == 0 && d.Split.Empty()
}

// Pref returns the value of the named preference, or empty.
func (d *Document) Pref(name string) string {
	for _, p := range d.Prefs {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// SetPref creates or updates the named preference at the given logical
// time.
func (d *Document) SetPref(name, value string, now int64) {
	for i := range d.Prefs {
		if d.Prefs[i].Name == name {
			d.Prefs[i].Value = value
			d.Prefs[i].Changed = now
			return
		}
	}
	d.Prefs = append(d.Prefs, Pref{Name: name, Value: value, Changed: now})
}

// mergePrefs reconciles preference lists by name, larger Changed
// winning and ties favoring local, mirroring item merging.
func mergePrefs(local, remote []Pref) []Pref {
	surviving := make(map[string]Pref, len(remote))
	remoteOrder := make([]string, 0, len(remote))
	for _, r := range remote {
		surviving[r.Name] = r
		remoteOrder = append(remoteOrder, r.Name)
	}
	result := make([]Pref, 0, len(local)+len(remote))
	for _, l := range local {
		if r, ok := surviving[l.Name]; ok {
			if r.Changed > l.Changed {
				l = r
			}
			delete(surviving, l.Name)
		}
		result = append(result, l)
	}
	for _, name := range remoteOrder {
		if r, ok := surviving[name]; ok {
			result = append(result, r)
		}
	}
	return result
}

// MergeDocuments reconciles a local and a remote document.
func MergeDocuments(local, remote *Document, clk *clock.Clock) *Document {
	return &Document{
		Prefs: mergePrefs(local.Prefs, remote.Prefs),
		Split: Merge(local.Split, remote.Split, clk),
	}
}

// EncodeDocument serializes a document to JSON, reduced for the remote
// wire format or the local at-rest format.
func EncodeDocument(d *Document, remote bool) (string, error) {
	out := &Document{Prefs: d.Prefs, Split: d.Split.Reduce(remote)}
	if out.Prefs == nil {
		out.Prefs = []Pref{}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(raw), nil
}

// DecodeDocument parses an untrusted JSON document, normalizes it, and
// restores its invariants without burying anything.
func DecodeDocument(raw string, clk *clock.Clock) (*Document, error) {
	var d Document
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if d.Prefs == nil {
		d.Prefs = []Pref{}
	}
	if d.Split == nil {
		d.Split = New()
	} else {
		d.Split.Normalize()
	}
	d.Split.Update(clk, false)
	return &d, nil
}
