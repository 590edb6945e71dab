package netflow

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// VariableLength marks an IPFIX field whose size is carried in each data
// record rather than in the template.
const VariableLength = 0xFFFF

// TemplateField is one field specification of a template: a type code, the
// on-wire length (or VariableLength), and the enterprise number when the
// IPFIX enterprise bit was set on the type.
type TemplateField struct {
	Type         uint16
	Length       uint16
	EnterpriseID uint32
}

// Template describes the record layout an exporter announced under a
// template ID. A redefinition replaces the whole template, never merges.
type Template struct {
	ID     uint16
	Fields []TemplateField

	// Options marks an options template; ScopeCount is the number of
	// leading scope fields it declares.
	Options    bool
	ScopeCount int
}

// fixedSize returns the wire size of one record, or ok=false when any field
// is variable-length.
func (t *Template) fixedSize() (int, bool) {
	size := 0
	for _, f := range t.Fields {
		if f.Length == VariableLength {
			return 0, false
		}
		size += int(f.Length)
	}
	return size, true
}

// minSize is the smallest possible wire size of one record: fixed widths
// plus one length-prefix byte per variable-length field.
func (t *Template) minSize() int {
	size := 0
	for _, f := range t.Fields {
		if f.Length == VariableLength {
			size++
			continue
		}
		size += int(f.Length)
	}
	return size
}

// Store caches templates per exporter address. A template ID is scoped to
// its exporter: two exporters may reuse the same numeric ID for unrelated
// layouts, so lookups always carry the exporter key. The cache is bounded on
// both axes with LRU eviction (at most maxExporters exporters, each holding
// at most maxTemplates templates) so a long-running collector holds steady
// memory even against template churn; evicting a live template only costs a
// resync, the same as a lost template packet.
//
// A Store belongs to a single worker goroutine and does no locking.
type Store struct {
	exporters    *lru.Cache[string, *exporterTemplates]
	maxTemplates int
	evicted      uint64
}

type exporterTemplates struct {
	templates *lru.Cache[uint16, *Template]
}

// Template store sizing floors; zero or negative configuration falls back
// to 1 so the LRU constructors cannot fail.
func clampSize(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// NewStore builds a Store bounded to maxExporters exporter entries of
// maxTemplates templates each.
func NewStore(maxExporters, maxTemplates int) *Store {
	s := &Store{maxTemplates: clampSize(maxTemplates)}
	s.exporters, _ = lru.NewWithEvict(clampSize(maxExporters), func(_ string, et *exporterTemplates) {
		s.evicted += uint64(et.templates.Len())
	})
	return s
}

// Put stores or replaces the exporter's template under tmpl.ID.
func (s *Store) Put(exporter string, tmpl *Template) {
	et, ok := s.exporters.Get(exporter)
	if !ok {
		et = &exporterTemplates{}
		et.templates, _ = lru.NewWithEvict(s.maxTemplates, func(uint16, *Template) {
			s.evicted++
		})
		s.exporters.Add(exporter, et)
	}
	et.templates.Add(tmpl.ID, tmpl)
}

// Get returns the exporter's current template for id. A false return means
// the template has not been seen (or was evicted); the caller is expected to
// skip the data and carry on, since data regularly arrives before the
// template that describes it.
func (s *Store) Get(exporter string, id uint16) (*Template, bool) {
	et, ok := s.exporters.Get(exporter)
	if !ok {
		return nil, false
	}
	return et.templates.Get(id)
}

// Len returns the total number of cached templates.
func (s *Store) Len() int {
	n := 0
	for _, exporter := range s.exporters.Keys() {
		if et, ok := s.exporters.Peek(exporter); ok {
			n += et.templates.Len()
		}
	}
	return n
}

// Exporters returns the number of exporters with at least one cached
// template.
func (s *Store) Exporters() int {
	return s.exporters.Len()
}

// Evicted returns how many templates the size bounds have pushed out.
func (s *Store) Evicted() uint64 {
	return s.evicted
}
