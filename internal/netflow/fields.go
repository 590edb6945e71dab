package netflow

import "fmt"

// FieldKind drives normalization: how a raw big-endian byte span becomes a
// typed value.
type FieldKind uint8

const (
	KindNumber FieldKind = iota // unsigned big-endian integer
	KindIPv4                    // 4-byte address
	KindIPv6                    // 16-byte address
	KindMAC                     // 6-byte hardware address
	KindString                  // printable bytes, NUL padded
	KindBytes                   // opaque, hex when rendered
)

// FieldType names a field-type code and how to decode its value.
type FieldType struct {
	Name string
	Kind FieldKind
}

// fieldTypes is the field-type code table shared by NetFlow v9 and IPFIX
// (codes below 128 are identical in both). The names are the upper-case
// spellings the dump consumers key on and must not be renamed; codes above
// 127 carry their IANA information-element names, plus the Cisco ASA range.
var fieldTypes = map[uint16]FieldType{
	1:  {"IN_BYTES", KindNumber},
	2:  {"IN_PKTS", KindNumber},
	3:  {"FLOWS", KindNumber},
	4:  {"PROTOCOL", KindNumber},
	5:  {"SRC_TOS", KindNumber},
	6:  {"TCP_FLAGS", KindNumber},
	7:  {"L4_SRC_PORT", KindNumber},
	8:  {"IPV4_SRC_ADDR", KindIPv4},
	9:  {"SRC_MASK", KindNumber},
	10: {"INPUT_SNMP", KindNumber},
	11: {"L4_DST_PORT", KindNumber},
	12: {"IPV4_DST_ADDR", KindIPv4},
	13: {"DST_MASK", KindNumber},
	14: {"OUTPUT_SNMP", KindNumber},
	15: {"IPV4_NEXT_HOP", KindIPv4},
	16: {"SRC_AS", KindNumber},
	17: {"DST_AS", KindNumber},
	18: {"BGP_IPV4_NEXT_HOP", KindIPv4},
	19: {"MUL_DST_PKTS", KindNumber},
	20: {"MUL_DST_BYTES", KindNumber},
	21: {"LAST_SWITCHED", KindNumber},
	22: {"FIRST_SWITCHED", KindNumber},
	23: {"OUT_BYTES", KindNumber},
	24: {"OUT_PKTS", KindNumber},
	25: {"MIN_PKT_LNGTH", KindNumber},
	26: {"MAX_PKT_LNGTH", KindNumber},
	27: {"IPV6_SRC_ADDR", KindIPv6},
	28: {"IPV6_DST_ADDR", KindIPv6},
	29: {"IPV6_SRC_MASK", KindNumber},
	30: {"IPV6_DST_MASK", KindNumber},
	31: {"IPV6_FLOW_LABEL", KindNumber},
	32: {"ICMP_TYPE", KindNumber},
	33: {"MUL_IGMP_TYPE", KindNumber},
	34: {"SAMPLING_INTERVAL", KindNumber},
	35: {"SAMPLING_ALGORITHM", KindNumber},
	36: {"FLOW_ACTIVE_TIMEOUT", KindNumber},
	37: {"FLOW_INACTIVE_TIMEOUT", KindNumber},
	38: {"ENGINE_TYPE", KindNumber},
	39: {"ENGINE_ID", KindNumber},
	40: {"TOTAL_BYTES_EXP", KindNumber},
	41: {"TOTAL_PKTS_EXP", KindNumber},
	42: {"TOTAL_FLOWS_EXP", KindNumber},
	43: {"VENDOR_PROPRIETARY_43", KindBytes},
	44: {"IPV4_SRC_PREFIX", KindIPv4},
	45: {"IPV4_DST_PREFIX", KindIPv4},
	46: {"MPLS_TOP_LABEL_TYPE", KindNumber},
	47: {"MPLS_TOP_LABEL_IP_ADDR", KindIPv4},
	48: {"FLOW_SAMPLER_ID", KindNumber},
	49: {"FLOW_SAMPLER_MODE", KindNumber},
	50: {"FLOW_SAMPLER_RANDOM_INTERVAL", KindNumber},
	51: {"VENDOR_PROPRIETARY_51", KindBytes},
	52: {"MIN_TTL", KindNumber},
	53: {"MAX_TTL", KindNumber},
	54: {"IPV4_IDENT", KindNumber},
	55: {"DST_TOS", KindNumber},
	56: {"IN_SRC_MAC", KindMAC},
	57: {"OUT_DST_MAC", KindMAC},
	58: {"SRC_VLAN", KindNumber},
	59: {"DST_VLAN", KindNumber},
	60: {"IP_PROTOCOL_VERSION", KindNumber},
	61: {"DIRECTION", KindNumber},
	62: {"IPV6_NEXT_HOP", KindIPv6},
	63: {"BPG_IPV6_NEXT_HOP", KindIPv6},
	64: {"IPV6_OPTION_HEADERS", KindNumber},
	70: {"MPLS_LABEL_1", KindNumber},
	71: {"MPLS_LABEL_2", KindNumber},
	72: {"MPLS_LABEL_3", KindNumber},
	73: {"MPLS_LABEL_4", KindNumber},
	74: {"MPLS_LABEL_5", KindNumber},
	75: {"MPLS_LABEL_6", KindNumber},
	76: {"MPLS_LABEL_7", KindNumber},
	77: {"MPLS_LABEL_8", KindNumber},
	78: {"MPLS_LABEL_9", KindNumber},
	79: {"MPLS_LABEL_10", KindNumber},
	80: {"IN_DST_MAC", KindMAC},
	81: {"OUT_SRC_MAC", KindMAC},
	82: {"IF_NAME", KindString},
	83: {"IF_DESC", KindString},
	84: {"SAMPLER_NAME", KindString},
	85: {"IN_PERMANENT_BYTES", KindNumber},
	86: {"IN_PERMANENT_PKTS", KindNumber},
	88: {"FRAGMENT_OFFSET", KindNumber},
	89: {"FORWARDING_STATUS", KindNumber},
	90: {"MPLS_PAL_RD", KindBytes},
	91: {"MPLS_PREFIX_LEN", KindNumber},
	92: {"SRC_TRAFFIC_INDEX", KindNumber},
	93: {"DST_TRAFFIC_INDEX", KindNumber},
	94: {"APPLICATION_DESCRIPTION", KindString},
	95: {"APPLICATION_TAG", KindBytes},
	96: {"APPLICATION_NAME", KindString},
	98: {"postipDiffServCodePoint", KindNumber},
	99: {"replication_factor", KindNumber},

	// IPFIX information elements seen from firewalls and newer exporters.
	130: {"exporterIPv4Address", KindIPv4},
	131: {"exporterIPv6Address", KindIPv6},
	136: {"flowEndReason", KindNumber},
	148: {"flowId", KindNumber},
	150: {"flowStartSeconds", KindNumber},
	151: {"flowEndSeconds", KindNumber},
	152: {"flowStartMilliseconds", KindNumber},
	153: {"flowEndMilliseconds", KindNumber},
	176: {"icmpTypeIPv4", KindNumber},
	177: {"icmpCodeIPv4", KindNumber},
	178: {"icmpTypeIPv6", KindNumber},
	179: {"icmpCodeIPv6", KindNumber},
	225: {"postNATSourceIPv4Address", KindIPv4},
	226: {"postNATDestinationIPv4Address", KindIPv4},
	227: {"postNAPTSourceTransportPort", KindNumber},
	228: {"postNAPTDestinationTransportPort", KindNumber},
	231: {"initiatorOctets", KindNumber},
	232: {"responderOctets", KindNumber},
	233: {"firewallEvent", KindNumber},
	281: {"postNATSourceIPv6Address", KindIPv6},
	282: {"postNATDestinationIPv6Address", KindIPv6},
	298: {"initiatorPackets", KindNumber},
	299: {"responderPackets", KindNumber},
	323: {"observationTimeMilliseconds", KindNumber},

	// Cisco ASA vendor range.
	33000: {"INGRESS_ACL_ID", KindBytes},
	33001: {"EGRESS_ACL_ID", KindBytes},
	33002: {"FW_EXT_EVENT", KindNumber},
	40000: {"AAA_USERNAME", KindString},
}

// LookupField resolves a field-type code against the table.
func LookupField(id uint16) (FieldType, bool) {
	ft, ok := fieldTypes[id]
	return ft, ok
}

// GenericFieldName is the key an unlisted field-type code is preserved
// under; the value still reaches the dump so consumers can read
// vendor-specific fields.
func GenericFieldName(id uint16) string {
	return fmt.Sprintf("FIELD_%d", id)
}

// EnterpriseFieldName is the key for IPFIX enterprise-specific fields.
func EnterpriseFieldName(pen uint32, id uint16) string {
	return fmt.Sprintf("ENTERPRISE_%d_%d", pen, id)
}
