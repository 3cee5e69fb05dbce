package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbsync/internal/catalog/catalogtest"
	"nbsync/internal/domain"
	"nbsync/internal/logger"
)

func newReconciler(fake *catalogtest.Fake, dryRun bool) *Reconciler {
	return NewReconciler(fake, dryRun, logger.NewTestLogger())
}

func TestReconcileCreatesWhenAbsent(t *testing.T) {
	fake := catalogtest.New()
	r := newReconciler(fake, false)

	res, err := r.Reconcile(context.Background(), SiteSpec("Discovered"))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionCreated, res.Action)
	assert.NotZero(t, res.ID)

	rec, ok := fake.Record(domain.KindSite, res.ID)
	require.True(t, ok)
	assert.Equal(t, "discovered", rec["slug"])
}

func TestReconcileIsIdempotent(t *testing.T) {
	fake := catalogtest.New()
	r := newReconciler(fake, false)
	ctx := context.Background()

	spec := ClusterSpec("pve", 7)
	first, err := r.Reconcile(ctx, spec)
	require.NoError(t, err)
	before := fake.Mutations()

	second, err := r.Reconcile(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.ActionUnchanged, second.Action)
	assert.Equal(t, before, fake.Mutations())
}

func TestReconcileUpdatesOnlyChangedFields(t *testing.T) {
	fake := catalogtest.New()
	id := fake.Seed(domain.KindVirtualMachine, map[string]any{
		"name":    "web",
		"cluster": map[string]any{"id": float64(3), "name": "pve"},
		"status":  map[string]any{"value": "active", "label": "Active"},
		"vcpus":   "2.00",
		"memory":  float64(2048),
	})
	r := newReconciler(fake, false)

	res, err := r.Reconcile(context.Background(), Spec{
		DesiredEntity: domain.DesiredEntity{
			Kind: domain.KindVirtualMachine,
			Key:  "web",
			Attrs: map[string]any{
				"cluster": int64(3),
				"status":  "active",
				"vcpus":   2,
				"memory":  4096,
			},
		},
		Primary: map[string][]string{"name": {"web"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionUpdated, res.Action)
	assert.Equal(t, id, res.ID)
	assert.Equal(t, []string{"memory"}, res.Changed)
	assert.Equal(t, 0, fake.Creates(domain.KindVirtualMachine))
}

func TestReconcileConflictRelooksOnce(t *testing.T) {
	fake := catalogtest.New()
	fake.ConflictOnNextCreate(domain.KindManufacturer)
	r := newReconciler(fake, false)

	res, err := r.Reconcile(context.Background(), ManufacturerSpec("Generic"))
	require.NoError(t, err)
	assert.NotZero(t, res.ID)
	assert.Equal(t, domain.ActionUnchanged, res.Action)
	assert.Equal(t, 1, fake.Count(domain.KindManufacturer))
}

func TestReconcileConflictWithoutMatchFails(t *testing.T) {
	fake := catalogtest.New()
	fake.Fail(domain.KindSite, catalogtest.OpCreate, &domain.ApplicationError{StatusCode: 409, Body: "conflict"})
	r := newReconciler(fake, false)

	_, err := r.Reconcile(context.Background(), SiteSpec("lab"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestReconcileApplicationErrorNotMasked(t *testing.T) {
	fake := catalogtest.New()
	fake.Fail(domain.KindSite, catalogtest.OpCreate, &domain.ApplicationError{StatusCode: 500, Body: "boom"})
	r := newReconciler(fake, false)

	res, err := r.Reconcile(context.Background(), SiteSpec("lab"))
	require.Error(t, err)
	assert.Equal(t, domain.ActionFailed, res.Action)
	assert.Equal(t, domain.ErrorClassApplication, domain.Classify(err))
}

func TestReconcileTieBreakLowestID(t *testing.T) {
	fake := catalogtest.New()
	low := fake.Seed(domain.KindSite, map[string]any{"name": "dup"})
	fake.Seed(domain.KindSite, map[string]any{"name": "dup"})
	r := newReconciler(fake, false)

	res, err := r.Reconcile(context.Background(), SiteSpec("dup"))
	require.NoError(t, err)
	assert.Equal(t, low, res.ID)
}

func TestReconcileSecondaryLookup(t *testing.T) {
	ctx := context.Background()

	t.Run("finds record missed by primary key", func(t *testing.T) {
		fake := catalogtest.New()
		id := fake.Seed(domain.KindDevice, map[string]any{"name": "old-name", "status": "active"})
		r := newReconciler(fake, false)

		res, err := r.Reconcile(ctx, Spec{
			DesiredEntity: domain.DesiredEntity{Kind: domain.KindDevice, Key: "new-name", Attrs: map[string]any{"status": "active"}},
			Primary:       map[string][]string{"name": {"new-name"}},
			Secondary:     func(context.Context) (int64, error) { return id, nil },
		})
		require.NoError(t, err)
		assert.Equal(t, id, res.ID)
		assert.Equal(t, 0, fake.Mutations())
	})

	t.Run("primary wins on disagreement", func(t *testing.T) {
		fake := catalogtest.New()
		primary := fake.Seed(domain.KindDevice, map[string]any{"name": "a"})
		other := fake.Seed(domain.KindDevice, map[string]any{"name": "b"})
		r := newReconciler(fake, false)

		res, err := r.Reconcile(ctx, Spec{
			DesiredEntity: domain.DesiredEntity{Kind: domain.KindDevice, Key: "a"},
			Primary:       map[string][]string{"name": {"a"}},
			Secondary:     func(context.Context) (int64, error) { return other, nil },
		})
		require.NoError(t, err)
		assert.Equal(t, primary, res.ID)
	})

	t.Run("secondary error tolerated when primary matched", func(t *testing.T) {
		fake := catalogtest.New()
		id := fake.Seed(domain.KindDevice, map[string]any{"name": "a"})
		r := newReconciler(fake, false)

		res, err := r.Reconcile(ctx, Spec{
			DesiredEntity: domain.DesiredEntity{Kind: domain.KindDevice, Key: "a"},
			Primary:       map[string][]string{"name": {"a"}},
			Secondary:     func(context.Context) (int64, error) { return 0, domain.ErrAmbiguousAddress },
		})
		require.NoError(t, err)
		assert.Equal(t, id, res.ID)
	})

	t.Run("secondary error surfaces when primary missed", func(t *testing.T) {
		fake := catalogtest.New()
		r := newReconciler(fake, false)

		_, err := r.Reconcile(ctx, Spec{
			DesiredEntity: domain.DesiredEntity{Kind: domain.KindDevice, Key: "a"},
			Primary:       map[string][]string{"name": {"a"}},
			Secondary:     func(context.Context) (int64, error) { return 0, domain.ErrAmbiguousAddress },
		})
		assert.ErrorIs(t, err, domain.ErrAmbiguousAddress)
		assert.Equal(t, 0, fake.Mutations())
	})
}

func TestReconcileDryRun(t *testing.T) {
	fake := catalogtest.New()
	id := fake.Seed(domain.KindCluster, map[string]any{"name": "pve", "type": float64(1)})
	r := newReconciler(fake, true)
	ctx := context.Background()

	res, err := r.Reconcile(ctx, SiteSpec("new"))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionPlanned, res.Action)
	assert.Zero(t, res.ID)

	res, err = r.Reconcile(ctx, ClusterSpec("pve", 2))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionPlanned, res.Action)
	assert.Equal(t, id, res.ID)
	assert.Equal(t, []string{"type"}, res.Changed)

	assert.Equal(t, 0, fake.Mutations())
}

func TestFieldEqual(t *testing.T) {
	tests := []struct {
		name string
		have any
		want any
		eq   bool
	}{
		{"nested ref", map[string]any{"id": float64(4)}, int64(4), true},
		{"nested ref differs", map[string]any{"id": float64(4)}, 5, false},
		{"choice object", map[string]any{"value": "offline", "label": "Offline"}, "offline", true},
		{"decimal string", "2.00", 2, true},
		{"bool", true, true, true},
		{"bool missing", nil, true, false},
		{"int set unordered", []any{float64(3), float64(1)}, []int{1, 3}, true},
		{"int set of refs", []any{map[string]any{"id": float64(9)}}, []int{9}, true},
		{"int set differs", []any{float64(1)}, []int{1, 2}, false},
		{"nil wanted", nil, nil, true},
		{"string", "web", "web", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.eq, FieldEqual(tt.have, tt.want))
		})
	}
}

func TestOwnerByAddress(t *testing.T) {
	ctx := context.Background()

	t.Run("follows assignment to the owning VM", func(t *testing.T) {
		fake := catalogtest.New()
		iface := fake.Seed(domain.KindVMInterface, map[string]any{"name": "eth0", "virtual_machine": map[string]any{"id": float64(42)}})
		fake.Seed(domain.KindIPAddress, map[string]any{
			"address":              "10.0.0.5/24",
			"assigned_object_type": "virtualization.vminterface",
			"assigned_object_id":   float64(iface),
		})

		id, err := OwnerByAddress(ctx, fake, "10.0.0.5", domain.KindVirtualMachine)
		require.NoError(t, err)
		assert.Equal(t, int64(42), id)
	})

	t.Run("unassigned address has no owner", func(t *testing.T) {
		fake := catalogtest.New()
		fake.Seed(domain.KindIPAddress, map[string]any{"address": "10.0.0.5/32"})

		id, err := OwnerByAddress(ctx, fake, "10.0.0.5", domain.KindDevice)
		require.NoError(t, err)
		assert.Zero(t, id)
	})

	t.Run("address on another parent kind is not an owner", func(t *testing.T) {
		fake := catalogtest.New()
		fake.Seed(domain.KindIPAddress, map[string]any{
			"address":              "10.0.0.5/32",
			"assigned_object_type": "virtualization.vminterface",
			"assigned_object_id":   float64(3),
		})

		id, err := OwnerByAddress(ctx, fake, "10.0.0.5", domain.KindDevice)
		require.NoError(t, err)
		assert.Zero(t, id)
	})

	t.Run("shared address is flagged", func(t *testing.T) {
		fake := catalogtest.New()
		for _, ifaceID := range []float64{3, 4} {
			fake.Seed(domain.KindIPAddress, map[string]any{
				"address":              "10.0.0.5/32",
				"assigned_object_type": "dcim.interface",
				"assigned_object_id":   ifaceID,
			})
		}

		_, err := OwnerByAddress(ctx, fake, "10.0.0.5", domain.KindDevice)
		assert.True(t, errors.Is(err, domain.ErrAmbiguousAddress))
		assert.Equal(t, domain.ErrorClassUnsupported, domain.Classify(err))
	})
}

func TestAssignIPRepoints(t *testing.T) {
	fake := catalogtest.New()
	ipID := fake.Seed(domain.KindIPAddress, map[string]any{
		"address":              "10.0.0.5/32",
		"assigned_object_type": "dcim.interface",
		"assigned_object_id":   float64(99),
	})
	r := newReconciler(fake, false)

	res, err := r.AssignIP(context.Background(), ipID, domain.KindVMInterface, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionUpdated, res.Action)

	rec, _ := fake.Record(domain.KindIPAddress, ipID)
	assert.Equal(t, "virtualization.vminterface", rec["assigned_object_type"])
	assert.Equal(t, float64(7), rec["assigned_object_id"])
	assert.Equal(t, 1, fake.Count(domain.KindIPAddress))
}

func TestAssignPrimaryIPFamily(t *testing.T) {
	fake := catalogtest.New()
	vm := fake.Seed(domain.KindVirtualMachine, map[string]any{"name": "web"})
	r := newReconciler(fake, false)
	ctx := context.Background()

	_, err := r.AssignPrimaryIP(ctx, domain.KindVirtualMachine, vm, 5, "10.0.0.5")
	require.NoError(t, err)
	_, err = r.AssignPrimaryIP(ctx, domain.KindVirtualMachine, vm, 6, "fd00::5")
	require.NoError(t, err)

	rec, _ := fake.Record(domain.KindVirtualMachine, vm)
	assert.Equal(t, float64(5), rec["primary_ip4"])
	assert.Equal(t, float64(6), rec["primary_ip6"])
}

func TestAssignWithoutParentID(t *testing.T) {
	fake := catalogtest.New()
	ipID := fake.Seed(domain.KindIPAddress, map[string]any{"address": "10.0.0.5/32"})
	r := newReconciler(fake, false)
	ctx := context.Background()

	res, err := r.AssignIP(ctx, ipID, domain.KindVMInterface, 0)
	assert.ErrorIs(t, err, domain.ErrParentMissing)
	assert.Equal(t, domain.ActionFailed, res.Action)

	_, err = r.AssignPrimaryMAC(ctx, domain.KindVMInterface, 0, 3)
	assert.ErrorIs(t, err, domain.ErrParentMissing)

	_, err = r.AssignPrimaryIP(ctx, domain.KindVirtualMachine, 0, ipID, "10.0.0.5")
	assert.ErrorIs(t, err, domain.ErrParentMissing)

	// nothing to assign is still only planned
	res, err = r.AssignIP(ctx, 0, domain.KindVMInterface, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionPlanned, res.Action)
	assert.Equal(t, 0, fake.Mutations())
}

func TestSpecCarriesDesiredEntity(t *testing.T) {
	spec := ClusterSpec("pve", 4)
	assert.Equal(t, domain.DesiredEntity{
		Kind:  domain.KindCluster,
		Key:   "pve",
		Attrs: map[string]any{"type": int64(4)},
	}, spec.DesiredEntity)

	fake := catalogtest.New()
	r := newReconciler(fake, false)
	res, err := r.Reconcile(context.Background(), spec)
	require.NoError(t, err)
	rec, ok := fake.Record(domain.KindCluster, res.ID)
	require.True(t, ok)
	assert.Equal(t, "pve", rec["name"])
	assert.EqualValues(t, 4, rec["type"])
}

func TestSpecs(t *testing.T) {
	t.Run("slugify", func(t *testing.T) {
		assert.Equal(t, "discovered-host", Slugify("Discovered-Host"))
		assert.Equal(t, "my-site-1", Slugify("  My Site #1 "))
	})

	t.Run("host prefix", func(t *testing.T) {
		p, err := HostPrefix("10.0.0.5")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.5/32", p)

		p, err = HostPrefix("fd00::1")
		require.NoError(t, err)
		assert.Equal(t, "fd00::1/128", p)

		_, err = HostPrefix("10.0.0")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("vm disk in MB", func(t *testing.T) {
		spec := VirtualMachineSpec(domain.InventoryItem{Name: "web", DiskGB: 32}, 1, nil)
		assert.Equal(t, 32768, spec.Attrs["disk"])

		spec = VirtualMachineSpec(domain.InventoryItem{Name: "web"}, 1, nil)
		assert.NotContains(t, spec.Attrs, "disk")
	})

	t.Run("device description", func(t *testing.T) {
		desc := DeviceDescription(domain.DiscoveredHost{
			IP:        "10.0.0.9",
			OpenPorts: []int{22, 8081},
			Services:  map[int]string{22: "SSH"},
		})
		assert.Equal(t, "IP: 10.0.0.9 | Open Ports: 22, 8081 | Services: SSH, Service-8081", desc)
	})

	t.Run("service parent field", func(t *testing.T) {
		spec := ServiceSpec(domain.KindVirtualMachine, 4, 443, "HTTPS", 0)
		assert.Equal(t, "auto-tcp-443", spec.CreateOnly["name"])
		assert.Equal(t, int64(4), spec.CreateOnly["virtual_machine"])
		assert.NotContains(t, spec.Attrs, "ipaddresses")
	})
}
