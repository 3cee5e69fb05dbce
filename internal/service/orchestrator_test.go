package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbsync/internal/catalog/catalogtest"
	"nbsync/internal/domain"
	"nbsync/internal/logger"
)

var testOptions = Options{
	ClusterName: "pve",
	ClusterType: "Proxmox",
	ServiceLabel: func(port int) string {
		if port == 22 {
			return "SSH"
		}
		return "Other"
	},
}

func newOrchestrator(fake *catalogtest.Fake, dryRun bool, events *EventBus) *Orchestrator {
	return NewOrchestrator(fake, testOptions, dryRun, events, logger.NewTestLogger())
}

func webVM() domain.InventoryItem {
	return domain.InventoryItem{
		VMID:     100,
		Name:     "web",
		Node:     "pve1",
		Type:     domain.GuestVM,
		Running:  true,
		VCPUs:    2,
		MemoryMB: 2048,
		DiskGB:   32,
		MAC:      "aa:bb:cc:dd:ee:01",
		IP:       "10.0.0.5",
	}
}

func nasHost() domain.DiscoveredHost {
	return domain.DiscoveredHost{
		IP:        "10.0.0.9",
		Hostname:  "nas.lan",
		OpenPorts: []int{22, 445},
		Services:  map[int]string{22: "SSH", 445: "SMB"},
	}
}

func TestSyncInventoryCreatesChain(t *testing.T) {
	fake := catalogtest.New()
	o := newOrchestrator(fake, false, nil)

	summary := o.SyncInventory(context.Background(), []domain.InventoryItem{webVM()},
		map[string][]int{"10.0.0.5": {22, 443}})

	require.Len(t, summary.Outcomes, 1)
	out := summary.Outcomes[0]
	assert.Equal(t, domain.ActionCreated, out.Action, out.ErrString())
	assert.Equal(t, 1, summary.Reconciled())

	vm, ok := fake.Record(domain.KindVirtualMachine, out.ID)
	require.True(t, ok)
	assert.Equal(t, "active", vm["status"])
	assert.Equal(t, float64(32768), vm["disk"])
	assert.NotZero(t, vm["primary_ip4"])

	ifaces := fake.All(domain.KindVMInterface)
	require.Len(t, ifaces, 1)
	assert.Equal(t, out.ID, ifaces[0].RefID("virtual_machine"))
	assert.NotZero(t, ifaces[0].Int("primary_mac_address"))

	macs := fake.All(domain.KindMACAddress)
	require.Len(t, macs, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", macs[0].String("mac_address"))

	ips := fake.All(domain.KindIPAddress)
	require.Len(t, ips, 1)
	assert.Equal(t, "10.0.0.5/32", ips[0].String("address"))
	assert.Equal(t, "virtualization.vminterface", ips[0].String("assigned_object_type"))
	assert.Equal(t, ifaces[0].ID, ips[0].Int("assigned_object_id"))

	services := fake.All(domain.KindService)
	require.Len(t, services, 2)
	assert.Equal(t, "auto-tcp-22", services[0].String("name"))
	assert.Equal(t, "SSH - Auto-detected", services[0].String("description"))
	assert.Equal(t, out.ID, services[0].RefID("virtual_machine"))
}

func TestSyncInventoryIsIdempotent(t *testing.T) {
	fake := catalogtest.New()
	o := newOrchestrator(fake, false, nil)
	ctx := context.Background()
	items := []domain.InventoryItem{webVM()}
	ports := map[string][]int{"10.0.0.5": {22, 443}}

	o.SyncInventory(ctx, items, ports)
	before := fake.Mutations()

	summary := o.SyncInventory(ctx, items, ports)
	assert.Equal(t, before, fake.Mutations())
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, domain.ActionUnchanged, summary.Outcomes[0].Action)
}

func TestSyncInventoryRenamedVMMatchedByAddress(t *testing.T) {
	fake := catalogtest.New()
	o := newOrchestrator(fake, false, nil)
	ctx := context.Background()

	o.SyncInventory(ctx, []domain.InventoryItem{webVM()}, nil)

	renamed := webVM()
	renamed.Name = "web-renamed"
	summary := o.SyncInventory(ctx, []domain.InventoryItem{renamed}, nil)

	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, domain.ActionUpdated, summary.Outcomes[0].Action)
	assert.Equal(t, 1, fake.Count(domain.KindVirtualMachine))
	assert.Equal(t, 1, fake.Creates(domain.KindVirtualMachine))

	vm, _ := fake.Record(domain.KindVirtualMachine, summary.Outcomes[0].ID)
	assert.Equal(t, "web-renamed", vm["name"])
}

func TestSyncInventoryInterfaceFailureSkipsDependents(t *testing.T) {
	fake := catalogtest.New()
	typeID := fake.Seed(domain.KindClusterType, map[string]any{"name": "Proxmox", "slug": "proxmox"})
	clusterID := fake.Seed(domain.KindCluster, map[string]any{"name": "pve", "type": map[string]any{"id": float64(typeID)}})
	vmB := fake.Seed(domain.KindVirtualMachine, map[string]any{"name": "b", "cluster": map[string]any{"id": float64(clusterID)}})
	fake.Seed(domain.KindVMInterface, map[string]any{"name": "eth0", "virtual_machine": map[string]any{"id": float64(vmB)}})
	fake.Fail(domain.KindVMInterface, catalogtest.OpCreate, &domain.ApplicationError{StatusCode: 400, Body: `{"name": ["invalid"]}`})

	events := NewEventBus()
	ch := make(chan Event, 16)
	events.Subscribe(ch)
	o := newOrchestrator(fake, false, events)

	a := webVM()
	a.Name = "a"
	b := webVM()
	b.Name = "b"
	b.VMID = 101
	b.MAC = "aa:bb:cc:dd:ee:02"
	b.IP = "10.0.0.6"

	summary := o.SyncInventory(context.Background(), []domain.InventoryItem{a, b},
		map[string][]int{"10.0.0.5": {22}, "10.0.0.6": {22}})

	require.Len(t, summary.Outcomes, 2)
	assert.Equal(t, domain.ActionFailed, summary.Outcomes[0].Action)
	assert.Equal(t, domain.StageInterface, summary.Outcomes[0].Stage)
	assert.Equal(t, domain.ErrorClassApplication, summary.Outcomes[0].Class)
	assert.False(t, summary.Outcomes[1].Failed(), summary.Outcomes[1].ErrString())
	assert.Equal(t, 1, summary.Failed())
	assert.Equal(t, 1, summary.Reconciled())

	assert.Equal(t, 1, fake.Count(domain.KindMACAddress))
	ips := fake.All(domain.KindIPAddress)
	require.Len(t, ips, 1)
	assert.Equal(t, "10.0.0.6/32", ips[0].String("address"))
	services := fake.All(domain.KindService)
	require.Len(t, services, 1)
	assert.Equal(t, vmB, services[0].RefID("virtual_machine"))

	var failed int
	for len(ch) > 0 {
		if ev := <-ch; ev.Type == EventEntityFailed {
			failed++
			assert.Equal(t, "a", ev.Outcome.Entity)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestSyncInventoryClusterFailureFailsEveryItem(t *testing.T) {
	fake := catalogtest.New()
	fake.Fail(domain.KindClusterType, catalogtest.OpList, &domain.TransientError{Op: "GET", URL: "cluster-types", Attempts: 3})
	o := newOrchestrator(fake, false, nil)

	a, b := webVM(), webVM()
	b.Name = "b"
	summary := o.SyncInventory(context.Background(), []domain.InventoryItem{a, b}, nil)

	require.Len(t, summary.Outcomes, 2)
	for _, out := range summary.Outcomes {
		assert.Equal(t, domain.ActionFailed, out.Action)
		assert.Equal(t, domain.StageCluster, out.Stage)
		assert.Equal(t, domain.ErrorClassTransient, out.Class)
	}
	assert.Equal(t, 0, fake.Mutations())
}

func TestSyncInventoryServiceFailure(t *testing.T) {
	fake := catalogtest.New()
	fake.Fail(domain.KindService, catalogtest.OpCreate, &domain.ApplicationError{StatusCode: 500, Body: "boom"})
	o := newOrchestrator(fake, false, nil)

	summary := o.SyncInventory(context.Background(), []domain.InventoryItem{webVM()},
		map[string][]int{"10.0.0.5": {22, 80}})

	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, domain.StageService, summary.Outcomes[0].Stage)
	assert.Equal(t, 1, fake.Count(domain.KindIPAddress))
	assert.Equal(t, 0, fake.Count(domain.KindService))
}

func TestSyncInventoryInvalidAddress(t *testing.T) {
	fake := catalogtest.New()
	o := newOrchestrator(fake, false, nil)

	item := webVM()
	item.IP = "10.0.0"
	summary := o.SyncInventory(context.Background(), []domain.InventoryItem{item}, nil)

	require.Len(t, summary.Outcomes, 1)
	out := summary.Outcomes[0]
	assert.Equal(t, domain.StageIPAddress, out.Stage)
	assert.Equal(t, domain.ErrorClassValidation, out.Class)
	assert.Equal(t, 0, fake.Count(domain.KindIPAddress))
	assert.Equal(t, 1, fake.Count(domain.KindMACAddress))
}

func TestSyncInventoryWithoutMACOrIP(t *testing.T) {
	fake := catalogtest.New()
	o := newOrchestrator(fake, false, nil)

	noMAC := webVM()
	noMAC.Name = "no-mac"
	noMAC.MAC = ""
	noIP := webVM()
	noIP.Name = "no-ip"
	noIP.IP = ""

	summary := o.SyncInventory(context.Background(), []domain.InventoryItem{noMAC, noIP}, nil)

	require.Len(t, summary.Outcomes, 2)
	assert.Equal(t, 2, summary.Reconciled())
	assert.NotEmpty(t, summary.Outcomes[0].Notes)
	assert.NotEmpty(t, summary.Outcomes[1].Notes)
	assert.Equal(t, 1, fake.Count(domain.KindVMInterface))
	assert.Equal(t, 0, fake.Count(domain.KindIPAddress))
}

func TestSyncInventoryDryRun(t *testing.T) {
	ctx := context.Background()

	t.Run("empty catalog", func(t *testing.T) {
		fake := catalogtest.New()
		o := newOrchestrator(fake, true, nil)

		summary := o.SyncInventory(ctx, []domain.InventoryItem{webVM()}, nil)
		require.Len(t, summary.Outcomes, 1)
		assert.Equal(t, domain.ActionPlanned, summary.Outcomes[0].Action)
		assert.True(t, summary.DryRun)
		assert.Equal(t, 0, fake.Mutations())
	})

	t.Run("changed catalog", func(t *testing.T) {
		fake := catalogtest.New()
		newOrchestrator(fake, false, nil).SyncInventory(ctx, []domain.InventoryItem{webVM()}, nil)
		before := fake.Mutations()

		item := webVM()
		item.MemoryMB = 4096
		summary := newOrchestrator(fake, true, nil).SyncInventory(ctx, []domain.InventoryItem{item}, map[string][]int{"10.0.0.5": {22}})

		require.Len(t, summary.Outcomes, 1)
		assert.Equal(t, domain.ActionPlanned, summary.Outcomes[0].Action)
		assert.Equal(t, before, fake.Mutations())
	})
}

func TestSyncCancelledPassSkipsRemainingEntities(t *testing.T) {
	fake := catalogtest.New()
	o := newOrchestrator(fake, false, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := o.SyncInventory(ctx, []domain.InventoryItem{webVM()}, nil)
	require.Len(t, summary.Outcomes, 1)
	out := summary.Outcomes[0]
	assert.Equal(t, domain.ActionSkipped, out.Action)
	assert.False(t, out.Failed())
	assert.Zero(t, out.ID)
	require.Len(t, out.Notes, 1)
	assert.Contains(t, out.Notes[0], "not attempted")
	assert.Equal(t, 0, summary.Failed())
	assert.Equal(t, 0, summary.Reconciled())
	assert.Equal(t, 0, fake.Count(domain.KindVirtualMachine))

	summary = o.SyncDiscovered(ctx, []domain.DiscoveredHost{nasHost()})
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, domain.ActionSkipped, summary.Outcomes[0].Action)
	assert.Equal(t, 0, fake.Count(domain.KindDevice))
}

func TestSyncDiscoveredCreatesDevice(t *testing.T) {
	fake := catalogtest.New()
	o := newOrchestrator(fake, false, nil)

	summary := o.SyncDiscovered(context.Background(), []domain.DiscoveredHost{nasHost()})

	require.Len(t, summary.Outcomes, 1)
	out := summary.Outcomes[0]
	assert.Equal(t, domain.ActionCreated, out.Action, out.ErrString())
	assert.Equal(t, "nas", out.Entity)

	dev, ok := fake.Record(domain.KindDevice, out.ID)
	require.True(t, ok)
	assert.Equal(t, "IP: 10.0.0.9 | Open Ports: 22, 445 | Services: SSH, SMB", dev["description"])
	assert.NotZero(t, dev["role"])
	assert.NotZero(t, dev["primary_ip4"])

	assert.Equal(t, 1, fake.Count(domain.KindSite))
	assert.Equal(t, 1, fake.Count(domain.KindDeviceType))
	assert.Equal(t, 1, fake.Count(domain.KindInterface))
	assert.Equal(t, 0, fake.Count(domain.KindMACAddress))

	services := fake.All(domain.KindService)
	require.Len(t, services, 2)
	assert.Equal(t, "SMB - Auto-detected", services[1].String("description"))

	ips := fake.All(domain.KindIPAddress)
	require.Len(t, ips, 1)
	assert.Equal(t, "dcim.interface", ips[0].String("assigned_object_type"))
}

func TestSyncDiscoveredIdempotentAcrossRename(t *testing.T) {
	fake := catalogtest.New()
	o := newOrchestrator(fake, false, nil)
	ctx := context.Background()

	o.SyncDiscovered(ctx, []domain.DiscoveredHost{nasHost()})
	before := fake.Mutations()

	again := o.SyncDiscovered(ctx, []domain.DiscoveredHost{nasHost()})
	assert.Equal(t, before, fake.Mutations())
	assert.Equal(t, domain.ActionUnchanged, again.Outcomes[0].Action)

	unnamed := nasHost()
	unnamed.Hostname = ""
	summary := o.SyncDiscovered(ctx, []domain.DiscoveredHost{unnamed})
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, "host-10-0-0-9", summary.Outcomes[0].Entity)
	assert.Equal(t, again.Outcomes[0].ID, summary.Outcomes[0].ID)
	assert.Equal(t, 1, fake.Count(domain.KindDevice))
}

func TestSyncDiscoveredAmbiguousAddress(t *testing.T) {
	fake := catalogtest.New()
	for _, ifaceID := range []float64{3, 4} {
		fake.Seed(domain.KindIPAddress, map[string]any{
			"address":              "10.0.0.9/32",
			"assigned_object_type": "dcim.interface",
			"assigned_object_id":   ifaceID,
		})
	}
	o := newOrchestrator(fake, false, nil)

	summary := o.SyncDiscovered(context.Background(), []domain.DiscoveredHost{nasHost()})

	require.Len(t, summary.Outcomes, 1)
	out := summary.Outcomes[0]
	assert.Equal(t, domain.StageDevice, out.Stage)
	assert.Equal(t, domain.ErrorClassUnsupported, out.Class)
	assert.Equal(t, 0, fake.Count(domain.KindDevice))
}

func TestSyncDiscoveredParentFailure(t *testing.T) {
	fake := catalogtest.New()
	fake.Fail(domain.KindDeviceType, catalogtest.OpCreate, &domain.ApplicationError{StatusCode: 400, Body: "bad"})
	o := newOrchestrator(fake, false, nil)

	other := nasHost()
	other.IP = "10.0.0.10"
	other.Hostname = ""
	summary := o.SyncDiscovered(context.Background(), []domain.DiscoveredHost{nasHost(), other})

	require.Len(t, summary.Outcomes, 2)
	for _, out := range summary.Outcomes {
		assert.Equal(t, domain.StageDeviceType, out.Stage)
	}
	assert.Equal(t, 0, fake.Count(domain.KindDevice))
}

func TestDeviceName(t *testing.T) {
	assert.Equal(t, "nas", DeviceName(domain.DiscoveredHost{IP: "10.0.0.9", Hostname: "nas.lan"}))
	assert.Equal(t, "host-10-0-0-9", DeviceName(domain.DiscoveredHost{IP: "10.0.0.9", Hostname: "a.lan"}))
	assert.Equal(t, "host-10-0-0-9", DeviceName(domain.DiscoveredHost{IP: "10.0.0.9"}))
}
