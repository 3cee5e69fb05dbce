package domain

import (
	"fmt"
	"strconv"
)

// Kind identifies a catalog entity type
type Kind string

const (
	KindSite           Kind = "site"
	KindManufacturer   Kind = "manufacturer"
	KindDeviceType     Kind = "device-type"
	KindDeviceRole     Kind = "device-role"
	KindClusterType    Kind = "cluster-type"
	KindCluster        Kind = "cluster"
	KindDevice         Kind = "device"
	KindVirtualMachine Kind = "virtual-machine"
	KindInterface      Kind = "interface"
	KindVMInterface    Kind = "vm-interface"
	KindMACAddress     Kind = "mac-address"
	KindIPAddress      Kind = "ip-address"
	KindService        Kind = "service"
)

// AssignedObjectType returns the catalog content type used when an IP or MAC
// is attached to an interface of this kind.
func (k Kind) AssignedObjectType() string {
	switch k {
	case KindInterface:
		return "dcim.interface"
	case KindVMInterface:
		return "virtualization.vminterface"
	default:
		return ""
	}
}

// InterfaceKindFor returns the interface kind owned by a parent kind
func InterfaceKindFor(parent Kind) Kind {
	if parent == KindVirtualMachine {
		return KindVMInterface
	}
	return KindInterface
}

// CatalogRecord is an entity as currently stored in the catalog
type CatalogRecord struct {
	Kind   Kind
	ID     int64
	Fields map[string]any
}

// NewCatalogRecord builds a record from a decoded JSON object
func NewCatalogRecord(kind Kind, fields map[string]any) CatalogRecord {
	return CatalogRecord{Kind: kind, ID: IDOf(fields["id"]), Fields: fields}
}

// String returns the field as a string. Choice objects ({value, label})
// resolve to their value.
func (r CatalogRecord) String(field string) string {
	return StringOf(r.Fields[field])
}

// Int returns the field as an integer, zero when absent
func (r CatalogRecord) Int(field string) int64 {
	return IDOf(r.Fields[field])
}

// RefID returns the id of a nested reference field ({"id": N, ...}) or a bare id
func (r CatalogRecord) RefID(field string) int64 {
	return IDOf(r.Fields[field])
}

// IDOf extracts a numeric id from a JSON-decoded value. Nested objects
// resolve through their "id" key.
func IDOf(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case map[string]any:
		return IDOf(t["id"])
	default:
		return 0
	}
}

// StringOf renders a JSON-decoded scalar as a string. Choice objects resolve
// through "value", nested references through "id".
func StringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		if val, ok := t["value"]; ok {
			return StringOf(val)
		}
		if id, ok := t["id"]; ok {
			return StringOf(id)
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// DesiredEntity is the state an entity should have after a pass. It lives
// only for the duration of one pass.
type DesiredEntity struct {
	Kind Kind
	// Key identifies the entity in logs
	Key string
	// Attrs are compared with the stored record and patched when different
	Attrs map[string]any
}
