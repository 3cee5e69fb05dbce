package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"nbsync/internal/domain"
)

// Options names the shared catalog objects the orchestrator attaches entities to
type Options struct {
	// InterfaceName is the name of the single interface created per device or VM
	InterfaceName string
	ClusterName   string
	ClusterType   string
	SiteName      string
	Manufacturer  string
	DeviceType    string
	DeviceRole    string
	// ServiceLabel names the service listening on a port
	ServiceLabel func(port int) string
}

func (o Options) withDefaults() Options {
	if o.InterfaceName == "" {
		o.InterfaceName = "eth0"
	}
	if o.ClusterType == "" {
		o.ClusterType = "Proxmox"
	}
	if o.SiteName == "" {
		o.SiteName = "Discovered"
	}
	if o.Manufacturer == "" {
		o.Manufacturer = "Generic"
	}
	if o.DeviceType == "" {
		o.DeviceType = "Discovered-Host"
	}
	if o.DeviceRole == "" {
		o.DeviceRole = "Discovered"
	}
	if o.ServiceLabel == nil {
		o.ServiceLabel = func(port int) string { return fmt.Sprintf("Service-%d", port) }
	}
	return o
}

// Orchestrator runs each entity through its dependency chain. Entities are
// processed one after another; a failed chain never stops its siblings.
type Orchestrator struct {
	rec     *Reconciler
	catalog Catalog
	opts    Options
	events  *EventBus
	log     zerolog.Logger
}

// NewOrchestrator creates an orchestrator. events may be nil.
func NewOrchestrator(catalog Catalog, opts Options, dryRun bool, events *EventBus, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		rec:     NewReconciler(catalog, dryRun, log),
		catalog: catalog,
		opts:    opts.withDefaults(),
		events:  events,
		log:     log,
	}
}

// Reconciler exposes the single-entity reconciler
func (o *Orchestrator) Reconciler() *Reconciler {
	return o.rec
}

// chain accumulates the outcome of one entity's stages
type chain struct {
	out domain.EntityOutcome
}

func newChain(entity string, kind domain.Kind) *chain {
	return &chain{out: domain.EntityOutcome{Entity: entity, Kind: kind, Action: domain.ActionUnchanged}}
}

// step folds a stage result into the outcome. It returns false when the
// stage produced no id, so dependents must not run.
func (c *chain) step(stage domain.Stage, res Result, err error) bool {
	if err != nil {
		c.fail(stage, err)
		return false
	}
	c.out.Action = c.out.Action.Merge(res.Action)
	if res.ID == 0 {
		c.note("%s: would be created, dependents not evaluated", stage)
		return false
	}
	return true
}

// stepAssign folds a stage that only patches an existing record
func (c *chain) stepAssign(stage domain.Stage, res Result, err error) bool {
	if err != nil {
		c.fail(stage, err)
		return false
	}
	c.out.Action = c.out.Action.Merge(res.Action)
	return true
}

func (c *chain) fail(stage domain.Stage, err error) {
	if c.out.Failed() {
		return
	}
	c.out.Action = domain.ActionFailed
	c.out.Stage = stage
	c.out.Err = err
	c.out.Class = domain.Classify(err)
}

// skip marks an entity whose chain never started
func (c *chain) skip(reason error) {
	c.out.Action = domain.ActionSkipped
	c.note("not attempted: %v", reason)
}

func (c *chain) note(format string, args ...any) {
	c.out.Notes = append(c.out.Notes, fmt.Sprintf(format, args...))
}

// SyncInventory reconciles hypervisor guests. openPorts maps a guest IP to
// the TCP ports found open on it.
func (o *Orchestrator) SyncInventory(ctx context.Context, items []domain.InventoryItem, openPorts map[string][]int) *domain.BatchSummary {
	summary := domain.NewBatchSummary("inventory", o.rec.DryRun())
	defer summary.Finish()
	o.events.Publish(Event{Type: EventPassStarted, Batch: summary.Name})
	defer o.events.Publish(Event{Type: EventPassFinished, Batch: summary.Name})

	clusterID, stage, err := o.ensureCluster(ctx)
	if err != nil || clusterID == 0 {
		for _, item := range items {
			c := newChain(item.Name, domain.KindVirtualMachine)
			if err != nil {
				c.fail(stage, err)
			} else {
				c.step(stage, Result{Action: domain.ActionPlanned}, nil)
			}
			o.record(summary, c)
		}
		return summary
	}

	for _, item := range items {
		if ctx.Err() != nil {
			c := newChain(item.Name, domain.KindVirtualMachine)
			c.skip(ctx.Err())
			o.record(summary, c)
			continue
		}
		o.record(summary, o.syncItem(ctx, clusterID, item, openPorts[item.IP]))
	}

	return summary
}

func (o *Orchestrator) ensureCluster(ctx context.Context) (int64, domain.Stage, error) {
	typeRes, err := o.rec.Reconcile(ctx, ClusterTypeSpec(o.opts.ClusterType))
	if err != nil || typeRes.ID == 0 {
		return 0, domain.StageCluster, err
	}
	res, err := o.rec.Reconcile(ctx, ClusterSpec(o.opts.ClusterName, typeRes.ID))
	return res.ID, domain.StageCluster, err
}

func (o *Orchestrator) syncItem(ctx context.Context, clusterID int64, item domain.InventoryItem, ports []int) *chain {
	c := newChain(item.Name, domain.KindVirtualMachine)

	var secondary func(context.Context) (int64, error)
	if item.IP != "" {
		secondary = func(ctx context.Context) (int64, error) {
			return OwnerByAddress(ctx, o.catalog, item.IP, domain.KindVirtualMachine)
		}
	}

	res, err := o.rec.Reconcile(ctx, VirtualMachineSpec(item, clusterID, secondary))
	if !c.step(domain.StageVirtualMachine, res, err) {
		return c
	}
	c.out.ID = res.ID

	if item.MAC == "" {
		c.note("no network adapter MAC, interface skipped")
		return c
	}
	o.attach(ctx, c, domain.KindVirtualMachine, res.ID, item.MAC, item.IP, item.Name, ports, nil)
	return c
}

// SyncDiscovered reconciles hosts found by a network sweep as devices
func (o *Orchestrator) SyncDiscovered(ctx context.Context, hosts []domain.DiscoveredHost) *domain.BatchSummary {
	summary := domain.NewBatchSummary("discovery", o.rec.DryRun())
	defer summary.Finish()
	o.events.Publish(Event{Type: EventPassStarted, Batch: summary.Name})
	defer o.events.Publish(Event{Type: EventPassFinished, Batch: summary.Name})

	if len(hosts) == 0 {
		return summary
	}

	params, stage, err := o.ensureDeviceParents(ctx)
	if err != nil || stage != "" {
		for _, host := range hosts {
			c := newChain(DeviceName(host), domain.KindDevice)
			if err != nil {
				c.fail(stage, err)
			} else {
				c.step(stage, Result{Action: domain.ActionPlanned}, nil)
			}
			o.record(summary, c)
		}
		return summary
	}

	for _, host := range hosts {
		if ctx.Err() != nil {
			c := newChain(DeviceName(host), domain.KindDevice)
			c.skip(ctx.Err())
			o.record(summary, c)
			continue
		}
		o.record(summary, o.syncHost(ctx, params, host))
	}

	return summary
}

// ensureDeviceParents reconciles the site, manufacturer, device type and role
// shared by all discovered devices. A non-empty stage means the parents are
// not available: err is set on failure, nil when a parent is only planned.
func (o *Orchestrator) ensureDeviceParents(ctx context.Context) (DeviceParams, domain.Stage, error) {
	var p DeviceParams

	site, err := o.rec.Reconcile(ctx, SiteSpec(o.opts.SiteName))
	if err != nil || site.ID == 0 {
		return p, domain.StageSite, err
	}
	mfr, err := o.rec.Reconcile(ctx, ManufacturerSpec(o.opts.Manufacturer))
	if err != nil || mfr.ID == 0 {
		return p, domain.StageManufacturer, err
	}
	dt, err := o.rec.Reconcile(ctx, DeviceTypeSpec(o.opts.DeviceType, mfr.ID))
	if err != nil || dt.ID == 0 {
		return p, domain.StageDeviceType, err
	}
	role, err := o.rec.Reconcile(ctx, DeviceRoleSpec(o.opts.DeviceRole))
	if err != nil || role.ID == 0 {
		return p, domain.StageDeviceRole, err
	}

	return DeviceParams{SiteID: site.ID, DeviceTypeID: dt.ID, RoleID: role.ID}, "", nil
}

func (o *Orchestrator) syncHost(ctx context.Context, params DeviceParams, host domain.DiscoveredHost) *chain {
	name := DeviceName(host)
	c := newChain(name, domain.KindDevice)

	secondary := func(ctx context.Context) (int64, error) {
		return OwnerByAddress(ctx, o.catalog, host.IP, domain.KindDevice)
	}
	res, err := o.rec.Reconcile(ctx, DeviceSpec(host, name, params, secondary))
	if !c.step(domain.StageDevice, res, err) {
		return c
	}
	c.out.ID = res.ID

	o.attach(ctx, c, domain.KindDevice, res.ID, "", host.IP, name, host.OpenPorts, host.Services)
	return c
}

// attach runs the stages below a device or VM: interface, MAC binding,
// primary MAC, IP address, IP assignment, primary IP and services. labels
// overrides the service label of a port.
func (o *Orchestrator) attach(ctx context.Context, c *chain, parent domain.Kind, parentID int64, mac, ip, owner string, ports []int, labels map[int]string) {
	ifaceKind := domain.InterfaceKindFor(parent)

	res, err := o.rec.Reconcile(ctx, InterfaceSpec(parent, parentID, o.opts.InterfaceName, mac))
	if !c.step(domain.StageInterface, res, err) {
		return
	}
	ifaceID := res.ID

	if mac != "" {
		macRes, err := o.rec.Reconcile(ctx, MACSpec(mac, ifaceKind, ifaceID))
		if !c.step(domain.StageMACAddress, macRes, err) {
			return
		}
		res, err = o.rec.AssignPrimaryMAC(ctx, ifaceKind, ifaceID, macRes.ID)
		if !c.stepAssign(domain.StagePrimaryMAC, res, err) {
			return
		}
	}

	if ip == "" {
		c.note("no IP address resolved, address and services skipped")
		return
	}

	spec, err := IPAddressSpec(ip, fmt.Sprintf("Auto-assigned to %s", owner))
	if err != nil {
		c.fail(domain.StageIPAddress, err)
		return
	}
	ipRes, err := o.rec.Reconcile(ctx, spec)
	if !c.step(domain.StageIPAddress, ipRes, err) {
		return
	}
	ipID := ipRes.ID

	res, err = o.rec.AssignIP(ctx, ipID, ifaceKind, ifaceID)
	if !c.stepAssign(domain.StageIPAssignment, res, err) {
		return
	}
	res, err = o.rec.AssignPrimaryIP(ctx, parent, parentID, ipID, ip)
	if !c.stepAssign(domain.StagePrimaryIP, res, err) {
		return
	}

	for _, port := range ports {
		label := labels[port]
		if label == "" {
			label = o.opts.ServiceLabel(port)
		}
		res, err := o.rec.Reconcile(ctx, ServiceSpec(parent, parentID, port, label, ipID))
		if err != nil {
			o.log.Warn().Err(err).Str("entity", owner).Int("port", port).Msg("Service reconcile failed")
			c.fail(domain.StageService, err)
			continue
		}
		c.out.Action = c.out.Action.Merge(res.Action)
	}
}

func (o *Orchestrator) record(summary *domain.BatchSummary, c *chain) {
	out := c.out
	ev := o.log.Info()
	if out.Failed() {
		ev = o.log.Error().Err(out.Err).Str("stage", string(out.Stage)).Str("class", string(out.Class))
	}
	ev.Str("batch", summary.Name).
		Str("entity", out.Entity).
		Str("kind", string(out.Kind)).
		Int64("id", out.ID).
		Str("action", string(out.Action)).
		Msg("Entity reconciled")

	summary.Add(out)
	o.events.publishOutcome(summary.Name, out)
}

// DeviceName names a discovered host after its short hostname, falling back
// to its address when the hostname is missing or too short to be meaningful.
func DeviceName(host domain.DiscoveredHost) string {
	if short, _, _ := strings.Cut(host.Hostname, "."); len(short) > 2 {
		return short
	}
	return "host-" + strings.NewReplacer(".", "-", ":", "-").Replace(host.IP)
}
