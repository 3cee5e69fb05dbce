package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"nbsync/internal/domain"
)

// Catalog is the subset of the catalog client the reconciler needs
type Catalog interface {
	List(ctx context.Context, kind domain.Kind, filter url.Values) ([]domain.CatalogRecord, error)
	Get(ctx context.Context, kind domain.Kind, id int64) (domain.CatalogRecord, error)
	Create(ctx context.Context, kind domain.Kind, attrs map[string]any) (domain.CatalogRecord, error)
	Update(ctx context.Context, kind domain.Kind, id int64, attrs map[string]any) (domain.CatalogRecord, error)
}

// Spec describes one entity to reconcile
type Spec struct {
	domain.DesiredEntity
	// Primary is the natural-key filter for the first lookup
	Primary url.Values
	// Secondary resolves an id by another path (devices: IP assignment).
	// It returns 0 when nothing matches.
	Secondary func(ctx context.Context) (int64, error)
	// CreateOnly fields are sent on creation and never compared
	CreateOnly map[string]any
}

// Result is the id of a reconciled entity and what was done to it
type Result struct {
	ID      int64
	Action  domain.Action
	Changed []string
}

// Reconciler makes one catalog entity match its desired state
type Reconciler struct {
	catalog Catalog
	dryRun  bool
	log     zerolog.Logger
}

// NewReconciler creates a reconciler. In dry-run mode no create or update is sent.
func NewReconciler(catalog Catalog, dryRun bool, log zerolog.Logger) *Reconciler {
	return &Reconciler{catalog: catalog, dryRun: dryRun, log: log}
}

// DryRun reports whether mutations are suppressed
func (r *Reconciler) DryRun() bool {
	return r.dryRun
}

// Reconcile looks the entity up, then updates it in place or creates it.
// A found entity is never re-created. A create that conflicts with a
// concurrent writer is followed by exactly one more lookup.
func (r *Reconciler) Reconcile(ctx context.Context, spec Spec) (Result, error) {
	rec, found, err := r.lookup(ctx, spec)
	if err != nil {
		return Result{Action: domain.ActionFailed}, fmt.Errorf("lookup %s %q: %w", spec.Kind, spec.Key, err)
	}
	if found {
		return r.converge(ctx, spec.Kind, spec.Key, rec, spec.Attrs)
	}

	if r.dryRun {
		r.log.Info().Str("kind", string(spec.Kind)).Str("key", spec.Key).Msg("Would create")
		return Result{Action: domain.ActionPlanned}, nil
	}

	attrs := make(map[string]any, len(spec.Attrs)+len(spec.CreateOnly))
	for k, v := range spec.CreateOnly {
		attrs[k] = v
	}
	for k, v := range spec.Attrs {
		attrs[k] = v
	}

	created, err := r.catalog.Create(ctx, spec.Kind, attrs)
	if err == nil {
		r.log.Info().Str("kind", string(spec.Kind)).Str("key", spec.Key).Int64("id", created.ID).Msg("Created")
		return Result{ID: created.ID, Action: domain.ActionCreated}, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return Result{Action: domain.ActionFailed}, fmt.Errorf("create %s %q: %w", spec.Kind, spec.Key, err)
	}

	r.log.Warn().Err(err).Str("kind", string(spec.Kind)).Str("key", spec.Key).Msg("Create conflicted, looking up again")

	rec, found, lerr := r.lookup(ctx, spec)
	if lerr != nil {
		return Result{Action: domain.ActionFailed}, fmt.Errorf("lookup %s %q after conflict: %w", spec.Kind, spec.Key, lerr)
	}
	if !found {
		return Result{Action: domain.ActionFailed}, fmt.Errorf("create %s %q: conflict but no match on lookup: %w", spec.Kind, spec.Key, err)
	}
	return r.converge(ctx, spec.Kind, spec.Key, rec, spec.Attrs)
}

// EnsureFields patches the given fields of an existing record when they differ
func (r *Reconciler) EnsureFields(ctx context.Context, kind domain.Kind, id int64, desired map[string]any) (Result, error) {
	if id == 0 {
		return Result{Action: domain.ActionPlanned}, nil
	}
	rec, err := r.catalog.Get(ctx, kind, id)
	if err != nil {
		return Result{Action: domain.ActionFailed}, fmt.Errorf("get %s %d: %w", kind, id, err)
	}
	return r.converge(ctx, kind, strconv.FormatInt(id, 10), rec, desired)
}

func (r *Reconciler) lookup(ctx context.Context, spec Spec) (domain.CatalogRecord, bool, error) {
	var primary *domain.CatalogRecord

	if spec.Primary != nil {
		recs, err := r.catalog.List(ctx, spec.Kind, spec.Primary)
		if err != nil {
			return domain.CatalogRecord{}, false, err
		}
		if len(recs) > 0 {
			sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
			primary = &recs[0]
			if len(recs) > 1 {
				r.log.Warn().
					Str("kind", string(spec.Kind)).
					Str("key", spec.Key).
					Int("matches", len(recs)).
					Int64("id", primary.ID).
					Msg("Multiple matches, using lowest id")
			}
		}
	}

	if spec.Secondary == nil {
		if primary == nil {
			return domain.CatalogRecord{}, false, nil
		}
		return *primary, true, nil
	}

	secondaryID, err := spec.Secondary(ctx)
	if err != nil {
		if primary != nil {
			r.log.Warn().Err(err).Str("kind", string(spec.Kind)).Str("key", spec.Key).Msg("Secondary lookup failed, keeping primary match")
			return *primary, true, nil
		}
		return domain.CatalogRecord{}, false, err
	}

	switch {
	case primary != nil && secondaryID != 0 && secondaryID != primary.ID:
		r.log.Warn().
			Str("kind", string(spec.Kind)).
			Str("key", spec.Key).
			Int64("primary_id", primary.ID).
			Int64("secondary_id", secondaryID).
			Msg("Lookups disagree, primary match wins")
		return *primary, true, nil
	case primary != nil:
		return *primary, true, nil
	case secondaryID != 0:
		rec, err := r.catalog.Get(ctx, spec.Kind, secondaryID)
		if err != nil {
			return domain.CatalogRecord{}, false, err
		}
		r.log.Debug().Str("kind", string(spec.Kind)).Str("key", spec.Key).Int64("id", rec.ID).Msg("Matched by secondary lookup")
		return rec, true, nil
	default:
		return domain.CatalogRecord{}, false, nil
	}
}

func (r *Reconciler) converge(ctx context.Context, kind domain.Kind, key string, rec domain.CatalogRecord, desired map[string]any) (Result, error) {
	changes := Diff(rec, desired)
	if len(changes) == 0 {
		return Result{ID: rec.ID, Action: domain.ActionUnchanged}, nil
	}

	fields := make([]string, 0, len(changes))
	for k := range changes {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	if r.dryRun {
		r.log.Info().Str("kind", string(kind)).Str("key", key).Strs("fields", fields).Msg("Would update")
		return Result{ID: rec.ID, Action: domain.ActionPlanned, Changed: fields}, nil
	}

	if _, err := r.catalog.Update(ctx, kind, rec.ID, changes); err != nil {
		return Result{ID: rec.ID, Action: domain.ActionFailed}, fmt.Errorf("update %s %q: %w", kind, key, err)
	}

	r.log.Info().Str("kind", string(kind)).Str("key", key).Int64("id", rec.ID).Strs("fields", fields).Msg("Updated")
	return Result{ID: rec.ID, Action: domain.ActionUpdated, Changed: fields}, nil
}

// Diff returns the desired fields whose stored value differs
func Diff(rec domain.CatalogRecord, desired map[string]any) map[string]any {
	changes := make(map[string]any)
	for k, want := range desired {
		if !FieldEqual(rec.Fields[k], want) {
			changes[k] = want
		}
	}
	return changes
}

// FieldEqual compares a JSON-decoded catalog value with a desired value.
// References compare by id, choice objects by value, numbers numerically.
func FieldEqual(have, want any) bool {
	switch w := want.(type) {
	case nil:
		return have == nil || (domain.IDOf(have) == 0 && domain.StringOf(have) == "")
	case int:
		return numberEqual(have, float64(w))
	case int64:
		return numberEqual(have, float64(w))
	case float64:
		return numberEqual(have, w)
	case string:
		return domain.StringOf(have) == w
	case bool:
		h, ok := have.(bool)
		return ok && h == w
	case []int:
		return intSetEqual(have, w)
	default:
		return fmt.Sprint(have) == fmt.Sprint(want)
	}
}

func numberEqual(have any, want float64) bool {
	switch h := have.(type) {
	case map[string]any:
		return float64(domain.IDOf(h)) == want
	case string:
		f, err := strconv.ParseFloat(h, 64)
		return err == nil && f == want
	case float64:
		return h == want
	case int:
		return float64(h) == want
	case int64:
		return float64(h) == want
	default:
		return false
	}
}

func intSetEqual(have any, want []int) bool {
	list, ok := have.([]any)
	if !ok {
		return len(want) == 0 && have == nil
	}
	if len(list) != len(want) {
		return false
	}
	got := make([]int, len(list))
	for i, v := range list {
		got[i] = int(domain.IDOf(v))
	}
	exp := append([]int(nil), want...)
	sort.Ints(got)
	sort.Ints(exp)
	for i := range got {
		if got[i] != exp[i] {
			return false
		}
	}
	return true
}
