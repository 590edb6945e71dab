package netflow

import (
	"encoding/binary"
	"fmt"
)

const (
	v9HeaderLen    = 20
	ipfixHeaderLen = 16
	setHeaderLen   = 4

	// enterpriseBit flags an IPFIX field type as enterprise-specific.
	enterpriseBit = 0x8000
)

// Decode parses one UDP datagram sent by exporter, consulting and updating
// the template store as template sets appear. Both NetFlow v9 and IPFIX are
// handled; the version word selects the layout.
//
// Unknown templates are not an error: the affected data set is skipped whole
// and counted on the packet, because exporters routinely emit data before
// the collector has (re)learned the template. An error return means the
// datagram itself is unusable — truncated or inconsistent lengths — and the
// caller should drop it and move on. Template definitions decoded before the
// failure stay in the store; a layout declaration is idempotent and keeping
// it shortens resynchronization.
func Decode(exporter string, payload []byte, store *Store) (*Packet, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(payload))
	}
	switch version := binary.BigEndian.Uint16(payload); version {
	case Version9:
		return decodeV9(exporter, payload, store)
	case VersionIPFIX:
		return decodeIPFIX(exporter, payload, store)
	default:
		return nil, fmt.Errorf("%w: %d", ErrVersion, version)
	}
}

func decodeV9(exporter string, payload []byte, store *Store) (*Packet, error) {
	if len(payload) < v9HeaderLen {
		return nil, fmt.Errorf("%w: v9 header needs %d bytes, have %d", ErrTruncated, v9HeaderLen, len(payload))
	}
	pkt := &Packet{
		Exporter: exporter,
		Header: Header{
			Version:    Version9,
			Count:      binary.BigEndian.Uint16(payload[2:]),
			SysUptime:  binary.BigEndian.Uint32(payload[4:]),
			ExportTime: binary.BigEndian.Uint32(payload[8:]),
			Sequence:   binary.BigEndian.Uint32(payload[12:]),
			SourceID:   binary.BigEndian.Uint32(payload[16:]),
		},
	}
	if err := decodeSets(pkt, payload[v9HeaderLen:], store, false); err != nil {
		return nil, err
	}
	return pkt, nil
}

func decodeIPFIX(exporter string, payload []byte, store *Store) (*Packet, error) {
	if len(payload) < ipfixHeaderLen {
		return nil, fmt.Errorf("%w: ipfix header needs %d bytes, have %d", ErrTruncated, ipfixHeaderLen, len(payload))
	}
	length := int(binary.BigEndian.Uint16(payload[2:]))
	if length < ipfixHeaderLen {
		return nil, fmt.Errorf("%w: declared message length %d", ErrMalformed, length)
	}
	if length > len(payload) {
		return nil, fmt.Errorf("%w: declared message length %d exceeds datagram of %d", ErrTruncated, length, len(payload))
	}
	pkt := &Packet{
		Exporter: exporter,
		Header: Header{
			Version:    VersionIPFIX,
			Length:     uint16(length),
			ExportTime: binary.BigEndian.Uint32(payload[4:]),
			Sequence:   binary.BigEndian.Uint32(payload[8:]),
			SourceID:   binary.BigEndian.Uint32(payload[12:]),
		},
	}
	// Exporters are expected to send one message per datagram; anything
	// past the declared length is ignored.
	if err := decodeSets(pkt, payload[ipfixHeaderLen:length], store, true); err != nil {
		return nil, err
	}
	return pkt, nil
}

// decodeSets walks the flow sets of one message. Set lengths come from the
// wire; any set reaching past the buffer fails the datagram.
func decodeSets(pkt *Packet, buf []byte, store *Store, ipfix bool) error {
	templateSet, optionsSet := uint16(v9TemplateSetID), uint16(v9OptionsTemplateSetID)
	if ipfix {
		templateSet, optionsSet = ipfixTemplateSetID, ipfixOptionsTemplateSetID
	}

	for off := 0; off < len(buf); {
		if len(buf)-off < setHeaderLen {
			// Trailing padding to the 32-bit boundary.
			return nil
		}
		setID := binary.BigEndian.Uint16(buf[off:])
		setLen := int(binary.BigEndian.Uint16(buf[off+2:]))
		if setID == 0 && setLen == 0 {
			// All-zero tail; some exporters pad with whole zero words.
			return nil
		}
		if setLen < setHeaderLen {
			return fmt.Errorf("%w: flow set %d declares length %d", ErrMalformed, setID, setLen)
		}
		if off+setLen > len(buf) {
			return fmt.Errorf("%w: flow set %d of %d bytes exceeds remaining %d", ErrTruncated, setID, setLen, len(buf)-off)
		}
		body := buf[off+setHeaderLen : off+setLen]

		switch {
		case setID == templateSet:
			if err := decodeTemplateSet(pkt, body, store, ipfix); err != nil {
				return err
			}
		case setID == optionsSet:
			if err := decodeOptionsTemplateSet(pkt, body, store, ipfix); err != nil {
				return err
			}
		case setID >= minDataSetID:
			if err := decodeDataSet(pkt, setID, body, store); err != nil {
				return err
			}
		default:
			// Reserved set IDs 4..255 carry nothing we consume.
		}
		off += setLen
	}
	return nil
}

// decodeTemplateSet parses the template records of one set and stores each
// template as it completes, so data sets later in the same datagram already
// resolve.
func decodeTemplateSet(pkt *Packet, body []byte, store *Store, ipfix bool) error {
	for len(body) >= setHeaderLen {
		id := binary.BigEndian.Uint16(body)
		count := int(binary.BigEndian.Uint16(body[2:]))
		if id == 0 && count == 0 {
			// Record-level padding.
			return nil
		}
		if id < minDataSetID {
			return fmt.Errorf("%w: template id %d below %d", ErrMalformed, id, minDataSetID)
		}
		body = body[setHeaderLen:]
		if count == 0 {
			// IPFIX template withdrawal. Templates here are only ever
			// replaced or evicted, so a withdrawal is acknowledged by
			// skipping it.
			continue
		}
		tmpl := &Template{ID: id, Fields: make([]TemplateField, 0, count)}
		var err error
		if body, err = decodeFieldSpecs(tmpl, body, count, ipfix); err != nil {
			return err
		}
		addTemplate(pkt, store, tmpl)
	}
	return nil
}

// decodeOptionsTemplateSet parses options templates. The two protocols
// declare scope differently: v9 gives scope and option section lengths in
// bytes, IPFIX gives a total field count plus how many of those lead as
// scope fields.
func decodeOptionsTemplateSet(pkt *Packet, body []byte, store *Store, ipfix bool) error {
	const recHeaderLen = 6
	for len(body) >= recHeaderLen {
		id := binary.BigEndian.Uint16(body)
		if id == 0 {
			// Padding reached.
			return nil
		}
		if id < minDataSetID {
			return fmt.Errorf("%w: options template id %d below %d", ErrMalformed, id, minDataSetID)
		}

		var scopeCount, fieldCount int
		if ipfix {
			fieldCount = int(binary.BigEndian.Uint16(body[2:]))
			scopeCount = int(binary.BigEndian.Uint16(body[4:]))
			if scopeCount > fieldCount {
				return fmt.Errorf("%w: options template %d scope %d exceeds field count %d", ErrMalformed, id, scopeCount, fieldCount)
			}
		} else {
			scopeLen := int(binary.BigEndian.Uint16(body[2:]))
			optionLen := int(binary.BigEndian.Uint16(body[4:]))
			if scopeLen%4 != 0 || optionLen%4 != 0 {
				return fmt.Errorf("%w: options template %d section lengths %d/%d", ErrMalformed, id, scopeLen, optionLen)
			}
			scopeCount = scopeLen / 4
			fieldCount = scopeCount + optionLen/4
		}

		tmpl := &Template{ID: id, Options: true, ScopeCount: scopeCount, Fields: make([]TemplateField, 0, fieldCount)}
		var err error
		if body, err = decodeFieldSpecs(tmpl, body[recHeaderLen:], fieldCount, ipfix); err != nil {
			return err
		}
		addTemplate(pkt, store, tmpl)
	}
	// Remaining bytes shorter than a record header are padding.
	return nil
}

// decodeFieldSpecs reads count field specifiers, appending them to the
// template, and returns the remaining bytes. IPFIX specifiers with the
// enterprise bit set carry a 4-byte enterprise number after the length.
func decodeFieldSpecs(tmpl *Template, body []byte, count int, ipfix bool) ([]byte, error) {
	for i := 0; i < count; i++ {
		if len(body) < 4 {
			return nil, fmt.Errorf("%w: template %d field specs", ErrTruncated, tmpl.ID)
		}
		f := TemplateField{
			Type:   binary.BigEndian.Uint16(body),
			Length: binary.BigEndian.Uint16(body[2:]),
		}
		body = body[4:]
		if ipfix && f.Type&enterpriseBit != 0 {
			if len(body) < 4 {
				return nil, fmt.Errorf("%w: template %d enterprise number", ErrTruncated, tmpl.ID)
			}
			f.Type &^= enterpriseBit
			f.EnterpriseID = binary.BigEndian.Uint32(body)
			body = body[4:]
		}
		if !ipfix && f.Length == VariableLength {
			return nil, fmt.Errorf("%w: v9 template %d uses variable length", ErrMalformed, tmpl.ID)
		}
		tmpl.Fields = append(tmpl.Fields, f)
	}
	return body, nil
}

func addTemplate(pkt *Packet, store *Store, tmpl *Template) {
	store.Put(pkt.Exporter, tmpl)
	pkt.Templates = append(pkt.Templates, tmpl)
}

// decodeDataSet slices the records of one data set against the template it
// references. An unknown template skips the set; the set length keeps the
// walk aligned for the sets that follow.
func decodeDataSet(pkt *Packet, setID uint16, body []byte, store *Store) error {
	tmpl, ok := store.Get(pkt.Exporter, setID)
	if !ok {
		pkt.UnknownSets++
		return nil
	}
	if len(tmpl.Fields) == 0 {
		return nil
	}

	if size, fixed := tmpl.fixedSize(); fixed {
		if size == 0 {
			return fmt.Errorf("%w: template %d describes empty records", ErrMalformed, setID)
		}
		// Anything shorter than one record at the tail is padding.
		for len(body) >= size {
			rec := DataRecord{TemplateID: setID, Options: tmpl.Options, Fields: make([]RawField, 0, len(tmpl.Fields))}
			for _, f := range tmpl.Fields {
				rec.Fields = append(rec.Fields, RawField{
					Type:         f.Type,
					EnterpriseID: f.EnterpriseID,
					Value:        body[:f.Length:f.Length],
				})
				body = body[f.Length:]
			}
			pkt.Records = append(pkt.Records, rec)
		}
		return nil
	}

	// Every template has at least one field here, so minSize is positive
	// and the walk below always consumes bytes.
	min := tmpl.minSize()
	for len(body) >= min {
		rec := DataRecord{TemplateID: setID, Options: tmpl.Options, Fields: make([]RawField, 0, len(tmpl.Fields))}
		for _, f := range tmpl.Fields {
			length := int(f.Length)
			if f.Length == VariableLength {
				var err error
				if length, body, err = readVarLength(setID, body); err != nil {
					return err
				}
			}
			if len(body) < length {
				return fmt.Errorf("%w: data set %d field %d wants %d bytes, %d left", ErrTruncated, setID, f.Type, length, len(body))
			}
			rec.Fields = append(rec.Fields, RawField{
				Type:         f.Type,
				EnterpriseID: f.EnterpriseID,
				Value:        body[:length:length],
			})
			body = body[length:]
		}
		pkt.Records = append(pkt.Records, rec)
	}
	return nil
}

// readVarLength consumes an IPFIX variable-length prefix: one byte, except
// that the reserved value 255 switches to a 2-byte extended length.
func readVarLength(setID uint16, body []byte) (int, []byte, error) {
	if len(body) < 1 {
		return 0, nil, fmt.Errorf("%w: data set %d variable length prefix", ErrTruncated, setID)
	}
	length := int(body[0])
	body = body[1:]
	if length == 255 {
		if len(body) < 2 {
			return 0, nil, fmt.Errorf("%w: data set %d extended length prefix", ErrTruncated, setID)
		}
		length = int(binary.BigEndian.Uint16(body))
		body = body[2:]
	}
	return length, body, nil
}
