package service

import (
	"context"
	"fmt"
	"net/netip"

	"nbsync/internal/domain"
)

// AssignIP points an IP address at an interface. An address assigned
// elsewhere is moved; the catalog never gets a second record for it.
func (r *Reconciler) AssignIP(ctx context.Context, ipID int64, ifaceKind domain.Kind, ifaceID int64) (Result, error) {
	if ipID == 0 {
		return Result{Action: domain.ActionPlanned}, nil
	}
	if ifaceID == 0 {
		return Result{Action: domain.ActionFailed}, fmt.Errorf("assign ip-address %d: %s: %w", ipID, ifaceKind, domain.ErrParentMissing)
	}

	rec, err := r.catalog.Get(ctx, domain.KindIPAddress, ipID)
	if err != nil {
		return Result{Action: domain.ActionFailed}, fmt.Errorf("get ip-address %d: %w", ipID, err)
	}

	objType := ifaceKind.AssignedObjectType()
	currentType := rec.String("assigned_object_type")
	currentID := rec.Int("assigned_object_id")
	if currentID != 0 && (currentType != objType || currentID != ifaceID) {
		r.log.Info().
			Str("address", rec.String("address")).
			Str("from_type", currentType).
			Int64("from_id", currentID).
			Str("to_type", objType).
			Int64("to_id", ifaceID).
			Msg("Repointing IP assignment")
	}

	return r.converge(ctx, domain.KindIPAddress, rec.String("address"), rec, map[string]any{
		"assigned_object_type": objType,
		"assigned_object_id":   ifaceID,
	})
}

// AssignPrimaryMAC marks a MAC binding as the interface's primary MAC
func (r *Reconciler) AssignPrimaryMAC(ctx context.Context, ifaceKind domain.Kind, ifaceID, macID int64) (Result, error) {
	if macID == 0 {
		return Result{Action: domain.ActionPlanned}, nil
	}
	if ifaceID == 0 {
		return Result{Action: domain.ActionFailed}, fmt.Errorf("assign mac-address %d: %s: %w", macID, ifaceKind, domain.ErrParentMissing)
	}
	return r.EnsureFields(ctx, ifaceKind, ifaceID, map[string]any{"primary_mac_address": macID})
}

// AssignPrimaryIP marks an address as the primary IP of a device or VM
func (r *Reconciler) AssignPrimaryIP(ctx context.Context, parent domain.Kind, parentID, ipID int64, ip string) (Result, error) {
	if ipID == 0 {
		return Result{Action: domain.ActionPlanned}, nil
	}
	if parentID == 0 {
		return Result{Action: domain.ActionFailed}, fmt.Errorf("primary ip %s: %s: %w", ip, parent, domain.ErrParentMissing)
	}
	field := "primary_ip4"
	if addr, err := netip.ParseAddr(ip); err == nil && addr.Is6() && !addr.Is4In6() {
		field = "primary_ip6"
	}
	return r.EnsureFields(ctx, parent, parentID, map[string]any{field: ipID})
}
