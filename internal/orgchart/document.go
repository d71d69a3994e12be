package orgchart

import (
	"bytes"
	"encoding/json"
)

// DocumentRef points at an uploaded document. On the wire it is either a bare
// string (a storage path) or an inline object, and it is written back in the
// form it arrived in.
type DocumentRef struct {
	Path       string `json:"path,omitempty"`
	Name       string `json:"name,omitempty"`
	Type       string `json:"type,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Data       string `json:"data,omitempty"`
	UploadedAt string `json:"uploadedAt,omitempty"`

	// Inline is false for bare-string references.
	Inline bool `json:"-"`
}

// PathRef builds a bare-string reference.
func PathRef(path string) DocumentRef {
	return DocumentRef{Path: path}
}

// CanonicalPath is the identity used to deduplicate references: the string
// itself, else the object's path, else its name.
func (d DocumentRef) CanonicalPath() string {
	if !d.Inline {
		return d.Path
	}
	if d.Path != "" {
		return d.Path
	}
	return d.Name
}

func (d DocumentRef) MarshalJSON() ([]byte, error) {
	if !d.Inline {
		return json.Marshal(d.Path)
	}
	type object DocumentRef
	return json.Marshal(object(d))
}

func (d *DocumentRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var path string
		if err := json.Unmarshal(trimmed, &path); err != nil {
			return err
		}
		*d = DocumentRef{Path: path}
		return nil
	}
	type object DocumentRef
	var decoded object
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return err
	}
	*d = DocumentRef(decoded)
	d.Inline = true
	return nil
}

type DocumentSet struct {
	CI       []DocumentRef `json:"ci"`
	Contract []DocumentRef `json:"contract"`
	CV       []DocumentRef `json:"cv"`
}

// Slot returns the list for a section.
func (s *DocumentSet) Slot(section Section) *[]DocumentRef {
	switch section {
	case SectionCI:
		return &s.CI
	case SectionContract:
		return &s.Contract
	case SectionCV:
		return &s.CV
	}
	return nil
}

// Count is the total number of references across all sections.
func (s DocumentSet) Count() int {
	return len(s.CI) + len(s.Contract) + len(s.CV)
}

func (s DocumentSet) normalized() DocumentSet {
	if s.CI == nil {
		s.CI = []DocumentRef{}
	}
	if s.Contract == nil {
		s.Contract = []DocumentRef{}
	}
	if s.CV == nil {
		s.CV = []DocumentRef{}
	}
	return s
}

// MergeDocumentLists returns existing followed by every incoming reference
// whose canonical path is not already present. Nothing is ever removed.
func MergeDocumentLists(existing, incoming []DocumentRef) []DocumentRef {
	out := make([]DocumentRef, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, doc := range existing {
		out = append(out, doc)
		seen[doc.CanonicalPath()] = struct{}{}
	}
	for _, doc := range incoming {
		key := doc.CanonicalPath()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, doc)
	}
	return out
}

// MergeDocumentSets merges each section independently.
func MergeDocumentSets(existing, incoming DocumentSet) DocumentSet {
	return DocumentSet{
		CI:       MergeDocumentLists(existing.CI, incoming.CI),
		Contract: MergeDocumentLists(existing.Contract, incoming.Contract),
		CV:       MergeDocumentLists(existing.CV, incoming.CV),
	}
}
