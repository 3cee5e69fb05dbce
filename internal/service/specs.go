package service

import (
	"context"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"nbsync/internal/domain"
)

// Slugify lower-cases name and joins alphanumeric runs with '-'
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func idStr(v int64) string {
	return strconv.FormatInt(v, 10)
}

// SiteSpec reconciles a site by name
func SiteSpec(name string) Spec {
	return Spec{
		DesiredEntity: domain.DesiredEntity{Kind: domain.KindSite, Key: name},
		Primary:       url.Values{"name": {name}},
		CreateOnly:    map[string]any{"name": name, "slug": Slugify(name), "status": "active"},
	}
}

// ManufacturerSpec reconciles a manufacturer by name
func ManufacturerSpec(name string) Spec {
	return Spec{
		DesiredEntity: domain.DesiredEntity{Kind: domain.KindManufacturer, Key: name},
		Primary:       url.Values{"name": {name}},
		CreateOnly:    map[string]any{"name": name, "slug": Slugify(name)},
	}
}

// DeviceTypeSpec reconciles a device type by model
func DeviceTypeSpec(model string, manufacturerID int64) Spec {
	return Spec{
		DesiredEntity: domain.DesiredEntity{
			Kind:  domain.KindDeviceType,
			Key:   model,
			Attrs: map[string]any{"manufacturer": manufacturerID},
		},
		Primary:    url.Values{"model": {model}},
		CreateOnly: map[string]any{"model": model, "slug": Slugify(model)},
	}
}

// DeviceRoleSpec reconciles the role given to discovered devices
func DeviceRoleSpec(name string) Spec {
	return Spec{
		DesiredEntity: domain.DesiredEntity{Kind: domain.KindDeviceRole, Key: name},
		Primary:       url.Values{"name": {name}},
		CreateOnly:    map[string]any{"name": name, "slug": Slugify(name), "color": "9e9e9e", "vm_role": false},
	}
}

// ClusterTypeSpec reconciles a cluster type by slug
func ClusterTypeSpec(name string) Spec {
	slug := Slugify(name)
	return Spec{
		DesiredEntity: domain.DesiredEntity{Kind: domain.KindClusterType, Key: name},
		Primary:       url.Values{"slug": {slug}},
		CreateOnly:    map[string]any{"name": name, "slug": slug},
	}
}

// ClusterSpec reconciles the hypervisor cluster by name
func ClusterSpec(name string, typeID int64) Spec {
	return Spec{
		DesiredEntity: domain.DesiredEntity{
			Kind:  domain.KindCluster,
			Key:   name,
			Attrs: map[string]any{"type": typeID},
		},
		Primary:    url.Values{"name": {name}},
		CreateOnly: map[string]any{"name": name, "status": "active"},
	}
}

// VirtualMachineSpec reconciles a hypervisor guest. It is looked up by
// name within the cluster, then by the owner of its IP address.
func VirtualMachineSpec(item domain.InventoryItem, clusterID int64, secondary func(context.Context) (int64, error)) Spec {
	desired := map[string]any{
		"name":        item.Name,
		"cluster":     clusterID,
		"status":      item.Status(),
		"vcpus":       item.VCPUs,
		"memory":      item.MemoryMB,
		"description": item.Description(),
	}
	if item.DiskGB > 0 {
		desired["disk"] = item.DiskGB * 1024
	}
	return Spec{
		DesiredEntity: domain.DesiredEntity{Kind: domain.KindVirtualMachine, Key: item.Name, Attrs: desired},
		Primary:       url.Values{"name": {item.Name}, "cluster_id": {idStr(clusterID)}},
		Secondary:     secondary,
	}
}

// DeviceParams are the shared parents of a discovered device
type DeviceParams struct {
	SiteID       int64
	DeviceTypeID int64
	RoleID       int64
}

// DeviceSpec reconciles a discovered host by name, then by the owner of its IP
func DeviceSpec(host domain.DiscoveredHost, name string, p DeviceParams, secondary func(context.Context) (int64, error)) Spec {
	return Spec{
		DesiredEntity: domain.DesiredEntity{
			Kind: domain.KindDevice,
			Key:  name,
			Attrs: map[string]any{
				"status":      "active",
				"description": DeviceDescription(host),
			},
		},
		Primary:   url.Values{"name": {name}},
		Secondary: secondary,
		CreateOnly: map[string]any{
			"name":        name,
			"site":        p.SiteID,
			"device_type": p.DeviceTypeID,
			"role":        p.RoleID,
		},
	}
}

// DeviceDescription summarizes a discovered host
func DeviceDescription(host domain.DiscoveredHost) string {
	ports := make([]string, len(host.OpenPorts))
	services := make([]string, len(host.OpenPorts))
	for i, p := range host.OpenPorts {
		ports[i] = strconv.Itoa(p)
		services[i] = host.Services[p]
		if services[i] == "" {
			services[i] = fmt.Sprintf("Service-%d", p)
		}
	}
	return fmt.Sprintf("IP: %s | Open Ports: %s | Services: %s",
		host.IP, strings.Join(ports, ", "), strings.Join(services, ", "))
}

// InterfaceSpec reconciles the single adapter of a device or VM
func InterfaceSpec(parent domain.Kind, parentID int64, name, mac string) Spec {
	kind := domain.InterfaceKindFor(parent)
	spec := Spec{DesiredEntity: domain.DesiredEntity{Kind: kind, Key: fmt.Sprintf("%s/%s", idStr(parentID), name)}}

	if kind == domain.KindVMInterface {
		spec.Primary = url.Values{"virtual_machine_id": {idStr(parentID)}, "name": {name}}
		spec.CreateOnly = map[string]any{"virtual_machine": parentID, "name": name}
		spec.Attrs = map[string]any{"enabled": true}
		if mac != "" {
			spec.Attrs["description"] = "MAC: " + mac
		}
		return spec
	}

	spec.Primary = url.Values{"device_id": {idStr(parentID)}, "name": {name}}
	spec.CreateOnly = map[string]any{"device": parentID, "name": name, "type": "1000base-t"}
	spec.Attrs = map[string]any{"enabled": true}
	return spec
}

// MACSpec reconciles the binding of a MAC address to one interface
func MACSpec(mac string, ifaceKind domain.Kind, ifaceID int64) Spec {
	objType := ifaceKind.AssignedObjectType()
	return Spec{
		DesiredEntity: domain.DesiredEntity{Kind: domain.KindMACAddress, Key: mac},
		Primary: url.Values{
			"mac_address":          {mac},
			"assigned_object_type": {objType},
			"assigned_object_id":   {idStr(ifaceID)},
		},
		CreateOnly: map[string]any{
			"mac_address":          mac,
			"assigned_object_type": objType,
			"assigned_object_id":   ifaceID,
		},
	}
}

// HostPrefix returns the single-host CIDR form of an address
func HostPrefix(ip string) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", domain.NewValidationError("ip", ip, "not an IP address")
	}
	return netip.PrefixFrom(addr, addr.BitLen()).String(), nil
}

// IPAddressSpec reconciles an IP address record, matched on the host part
func IPAddressSpec(ip, description string) (Spec, error) {
	prefix, err := HostPrefix(ip)
	if err != nil {
		return Spec{}, err
	}
	return Spec{
		DesiredEntity: domain.DesiredEntity{Kind: domain.KindIPAddress, Key: ip},
		Primary:       url.Values{"address": {ip}},
		CreateOnly:    map[string]any{"address": prefix, "status": "active", "description": description},
	}, nil
}

// ServiceName is the catalog name of an auto-detected TCP service
func ServiceName(port int) string {
	return fmt.Sprintf("auto-tcp-%d", port)
}

// ServiceSpec reconciles one detected TCP service on a device or VM
func ServiceSpec(parent domain.Kind, parentID int64, port int, label string, ipID int64) Spec {
	name := ServiceName(port)
	parentField := "device"
	if parent == domain.KindVirtualMachine {
		parentField = "virtual_machine"
	}

	desired := map[string]any{
		"ports":       []int{port},
		"protocol":    "tcp",
		"description": label + " - Auto-detected",
	}
	if ipID != 0 {
		desired["ipaddresses"] = []int{int(ipID)}
	}

	return Spec{
		DesiredEntity: domain.DesiredEntity{
			Kind:  domain.KindService,
			Key:   fmt.Sprintf("%s/%s", idStr(parentID), name),
			Attrs: desired,
		},
		Primary:    url.Values{"name": {name}, parentField + "_id": {idStr(parentID)}},
		CreateOnly: map[string]any{"name": name, parentField: parentID},
	}
}

// OwnerByAddress follows an IP address to the device or VM owning the
// interface it is assigned to. It returns 0 when the address is unknown or
// unassigned. An address assigned to more than one interface is an
// unsupported layout and yields ErrAmbiguousAddress.
func OwnerByAddress(ctx context.Context, catalog Catalog, ip string, parent domain.Kind) (int64, error) {
	if ip == "" {
		return 0, nil
	}
	recs, err := catalog.List(ctx, domain.KindIPAddress, url.Values{"address": {ip}})
	if err != nil {
		return 0, err
	}

	ifaceKind := domain.InterfaceKindFor(parent)
	objType := ifaceKind.AssignedObjectType()
	ownerField := "device"
	if parent == domain.KindVirtualMachine {
		ownerField = "virtual_machine"
	}

	type assignment struct {
		objType string
		id      int64
	}
	assignments := make(map[assignment]bool)
	var ifaceID int64

	for _, rec := range recs {
		if hostOf(rec.String("address")) != ip {
			continue
		}
		a := assignment{rec.String("assigned_object_type"), rec.Int("assigned_object_id")}
		if a.id == 0 {
			continue
		}
		assignments[a] = true
		if a.objType == objType {
			ifaceID = a.id
		}
	}

	if len(assignments) > 1 {
		return 0, fmt.Errorf("%s: %w", ip, domain.ErrAmbiguousAddress)
	}
	if ifaceID == 0 {
		return 0, nil
	}

	iface, err := catalog.Get(ctx, ifaceKind, ifaceID)
	if err != nil {
		return 0, err
	}
	return iface.RefID(ownerField), nil
}

func hostOf(addr string) string {
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		return addr[:i]
	}
	return addr
}
