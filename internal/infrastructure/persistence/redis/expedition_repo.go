package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/subvoyager/subvoyager/internal/domain/expedition"
	"github.com/subvoyager/subvoyager/internal/domain/shared"
)

const expeditionDomain = "expedition"

// Stats hash fields.
const (
	statExpeditions = "expeditions"
	statUnlocks     = "unlocks"
	statCompletions = "completions"
)

// ExpeditionRepository implements expedition.Repository.
// Records are JSON strings; the status, city and tag indexes are hashes
// used as id sets (id -> "1").
type ExpeditionRepository struct {
	store *Store
	now   func() time.Time
}

// NewExpeditionRepository creates a repository over store.
func NewExpeditionRepository(store *Store) *ExpeditionRepository {
	return &ExpeditionRepository{store: store, now: time.Now}
}

var _ expedition.Repository = (*ExpeditionRepository)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// WRITES
// ══════════════════════════════════════════════════════════════════════════════

// GenerateID allocates the next id with INCR, so concurrent callers never collide.
func (r *ExpeditionRepository) GenerateID(ctx context.Context) (string, error) {
	n, err := r.store.Incr(ctx, ExpeditionIDCounterKey())
	if err != nil {
		return "", shared.WrapStoreError(expeditionDomain, "GenerateID", err)
	}
	return expedition.FormatID(n), nil
}

// Create writes the record and its three index entries in one MULTI/EXEC.
func (r *ExpeditionRepository) Create(ctx context.Context, e *expedition.Expedition) error {
	if e == nil || e.ID == "" {
		return shared.NewDomainError(expeditionDomain, "Create", shared.ErrValidation, "expedition id is required")
	}

	data, err := json.Marshal(e)
	if err != nil {
		return shared.WrapStoreError(expeditionDomain, "Create", fmt.Errorf("%w: %v", ErrSerialization, err))
	}

	_, err = r.store.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, ExpeditionKey(e.ID), data, 0)
		for _, key := range indexKeys(e) {
			pipe.HSet(ctx, key, e.ID, "1")
		}
		pipe.HIncrBy(ctx, StatsKey(), statExpeditions, 1)
		return nil
	})
	return shared.WrapStoreError(expeditionDomain, "Create", err)
}

// Update overwrites the record and moves the id between indexes when the
// status, city or tag changed. The previous record is read under WATCH.
func (r *ExpeditionRepository) Update(ctx context.Context, e *expedition.Expedition) (bool, error) {
	if e == nil || e.ID == "" {
		return false, shared.NewDomainError(expeditionDomain, "Update", shared.ErrValidation, "expedition id is required")
	}

	key := ExpeditionKey(e.ID)
	var found bool

	err := r.store.Transact(ctx, func(tx *redis.Tx) error {
		found = true
		var old expedition.Expedition
		if err := getJSON(ctx, tx, key, &old); err != nil {
			if errors.Is(err, ErrMiss) {
				found = false
				return nil
			}
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			reindex(ctx, pipe, &old, e)
			return queueJSON(ctx, pipe, key, e)
		})
		return err
	}, key)
	if err != nil {
		return false, shared.WrapStoreError(expeditionDomain, "Update", err)
	}
	return found, nil
}

// IncrementUnlocks bumps unlockCount atomically. A missing record is a no-op.
func (r *ExpeditionRepository) IncrementUnlocks(ctx context.Context, id string) error {
	return r.increment(ctx, "IncrementUnlocks", id, statUnlocks, func(e *expedition.Expedition) {
		e.UnlockCount++
	})
}

// IncrementCompletions bumps completionCount atomically. A missing record is a no-op.
func (r *ExpeditionRepository) IncrementCompletions(ctx context.Context, id string) error {
	return r.increment(ctx, "IncrementCompletions", id, statCompletions, func(e *expedition.Expedition) {
		e.CompletionCount++
	})
}

func (r *ExpeditionRepository) increment(ctx context.Context, op, id, stat string, bump func(*expedition.Expedition)) error {
	_, err := UpdateJSON(ctx, r.store, ExpeditionKey(id), func(e *expedition.Expedition, pipe redis.Pipeliner) error {
		bump(e)
		pipe.HIncrBy(ctx, StatsKey(), stat, 1)
		return nil
	})
	if errors.Is(err, ErrMiss) {
		return nil
	}
	return shared.WrapStoreError(expeditionDomain, op, err)
}

// Approve moves the expedition to approved and stamps approvedAt/approvedBy.
func (r *ExpeditionRepository) Approve(ctx context.Context, id, approvedBy string) (bool, error) {
	return r.moderate(ctx, "Approve", id, func(e *expedition.Expedition) {
		e.Approve(approvedBy, r.now())
	})
}

// Reject moves the expedition to rejected.
func (r *ExpeditionRepository) Reject(ctx context.Context, id, _ string) (bool, error) {
	return r.moderate(ctx, "Reject", id, func(e *expedition.Expedition) {
		e.Reject()
	})
}

func (r *ExpeditionRepository) moderate(ctx context.Context, op, id string, apply func(*expedition.Expedition)) (bool, error) {
	_, err := UpdateJSON(ctx, r.store, ExpeditionKey(id), func(e *expedition.Expedition, pipe redis.Pipeliner) error {
		apply(e)
		// Drop the id from every other status index so a stale entry cannot survive.
		for _, s := range expedition.Statuses {
			if s != e.Status {
				pipe.HDel(ctx, StatusIndexKey(s), id)
			}
		}
		pipe.HSet(ctx, StatusIndexKey(e.Status), id, "1")
		return nil
	})
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, shared.WrapStoreError(expeditionDomain, op, err)
	}
	return true, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

// Get returns the record or nil when absent.
func (r *ExpeditionRepository) Get(ctx context.Context, id string) (*expedition.Expedition, error) {
	var e expedition.Expedition
	if err := r.store.GetJSON(ctx, ExpeditionKey(id), &e); err != nil {
		if errors.Is(err, ErrMiss) {
			return nil, nil
		}
		return nil, shared.WrapStoreError(expeditionDomain, "Get", err)
	}
	return &e, nil
}

// GetMany fetches records with one MGET, keeping the order of ids and
// dropping ids whose record is gone.
func (r *ExpeditionRepository) GetMany(ctx context.Context, ids []string) ([]*expedition.Expedition, error) {
	out := make([]*expedition.Expedition, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ExpeditionKey(id)
	}

	raw, err := r.store.MGetRaw(ctx, keys...)
	if err != nil {
		return nil, shared.WrapStoreError(expeditionDomain, "GetMany", err)
	}

	for _, key := range keys {
		data, ok := raw[key]
		if !ok {
			continue
		}
		var e expedition.Expedition
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, shared.WrapStoreError(expeditionDomain, "GetMany",
				fmt.Errorf("%w: %s: %v", ErrSerialization, key, err))
		}
		out = append(out, &e)
	}
	return out, nil
}

// ListByStatus pages through a status index. No status re-check is applied.
func (r *ExpeditionRepository) ListByStatus(ctx context.Context, status expedition.Status, page expedition.Page) ([]*expedition.Expedition, error) {
	return r.list(ctx, "ListByStatus", StatusIndexKey(status), page, nil)
}

// ListByCity pages through a city index and keeps approved expeditions only.
func (r *ExpeditionRepository) ListByCity(ctx context.Context, city string, page expedition.Page) ([]*expedition.Expedition, error) {
	return r.list(ctx, "ListByCity", CityIndexKey(city), page, approvedOnly)
}

// ListByTag pages through a tag index and keeps approved expeditions only.
func (r *ExpeditionRepository) ListByTag(ctx context.Context, tag expedition.Tag, page expedition.Page) ([]*expedition.Expedition, error) {
	return r.list(ctx, "ListByTag", TagIndexKey(tag), page, approvedOnly)
}

func approvedOnly(e *expedition.Expedition) bool {
	return e.IsApproved()
}

func (r *ExpeditionRepository) list(ctx context.Context, op, indexKey string, page expedition.Page, keep func(*expedition.Expedition) bool) ([]*expedition.Expedition, error) {
	ids, err := r.indexIDs(ctx, indexKey)
	if err != nil {
		return nil, shared.WrapStoreError(expeditionDomain, op, err)
	}

	records, err := r.GetMany(ctx, page.Apply(ids))
	if err != nil || keep == nil {
		return records, err
	}
	return filter(records, keep), nil
}

// Search intersects the status index with the city and tag indexes, pages
// over the result and re-checks status on the fetched records. Intersecting
// before paging keeps pages full when a city or tag holds other statuses.
func (r *ExpeditionRepository) Search(ctx context.Context, params expedition.SearchParams) ([]*expedition.Expedition, error) {
	status := params.Status
	if status == "" {
		status = expedition.StatusApproved
	}

	ids, err := r.indexIDs(ctx, StatusIndexKey(status))
	if err == nil && params.City != "" {
		var cityIDs []string
		if cityIDs, err = r.indexIDs(ctx, CityIndexKey(params.City)); err == nil {
			ids = expedition.Intersect(ids, cityIDs)
		}
	}
	if err == nil && params.Tag != "" {
		var tagIDs []string
		if tagIDs, err = r.indexIDs(ctx, TagIndexKey(params.Tag)); err == nil {
			ids = expedition.Intersect(ids, tagIDs)
		}
	}
	if err != nil {
		return nil, shared.WrapStoreError(expeditionDomain, "Search", err)
	}

	page := expedition.Page{Limit: params.Limit, Offset: params.Offset}
	records, err := r.GetMany(ctx, page.Apply(ids))
	if err != nil {
		return nil, err
	}

	return filter(records, func(e *expedition.Expedition) bool {
		return e.Status == status
	}), nil
}

// Nearby scans every approved expedition; there is no spatial index.
func (r *ExpeditionRepository) Nearby(ctx context.Context, origin expedition.Coordinates, radiusKm float64, limit int) ([]expedition.WithDistance, error) {
	approved, err := r.list(ctx, "Nearby", StatusIndexKey(expedition.StatusApproved), expedition.Page{}, approvedOnly)
	if err != nil {
		return nil, err
	}
	return expedition.FilterNearby(origin, approved, radiusKm, limit), nil
}

// Stats reads the global counters.
func (r *ExpeditionRepository) Stats(ctx context.Context) (expedition.Stats, error) {
	fields, err := r.store.HGetAll(ctx, StatsKey())
	if err != nil {
		return expedition.Stats{}, shared.WrapStoreError(expeditionDomain, "Stats", err)
	}

	parse := func(field string) int64 {
		n, _ := strconv.ParseInt(fields[field], 10, 64)
		return n
	}
	return expedition.Stats{
		Expeditions: parse(statExpeditions),
		Unlocks:     parse(statUnlocks),
		Completions: parse(statCompletions),
	}, nil
}

// indexIDs returns the ids of an index hash in creation order.
func (r *ExpeditionRepository) indexIDs(ctx context.Context, key string) ([]string, error) {
	ids, err := r.store.HKeys(ctx, key)
	if err != nil {
		return nil, err
	}
	expedition.SortIDs(ids)
	return ids, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INDEX MAINTENANCE
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileReport summarizes a ReconcileIndexes run.
type ReconcileReport struct {
	IndexesScanned int
	RecordsScanned int
	Removed        int
	Added          int
}

// ReconcileIndexes repairs index drift left by interrupted writes: entries
// pointing at missing or mismatched records are removed, and records missing
// from their status, city or tag index are added back.
func (r *ExpeditionRepository) ReconcileIndexes(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	var indexes []string
	err := r.store.Scan(ctx, PrefixExpeditions+"*", func(key string) error {
		indexes = append(indexes, key)
		return nil
	})
	if err != nil {
		return report, shared.WrapStoreError(expeditionDomain, "ReconcileIndexes", err)
	}

	for _, key := range indexes {
		report.IndexesScanned++

		ids, err := r.store.HKeys(ctx, key)
		if err != nil {
			return report, shared.WrapStoreError(expeditionDomain, "ReconcileIndexes", err)
		}
		records, err := r.byID(ctx, ids)
		if err != nil {
			return report, err
		}

		var stale []string
		for _, id := range ids {
			e, ok := records[id]
			if !ok || !containsKey(indexKeys(e), key) {
				stale = append(stale, id)
			}
		}
		if len(stale) > 0 {
			if err := r.store.HDel(ctx, key, stale...); err != nil {
				return report, shared.WrapStoreError(expeditionDomain, "ReconcileIndexes", err)
			}
			report.Removed += len(stale)
		}
	}

	err = r.store.Scan(ctx, PrefixExpedition+"exp_*", func(key string) error {
		report.RecordsScanned++

		e, err := r.Get(ctx, strings.TrimPrefix(key, PrefixExpedition))
		if err != nil || e == nil {
			return err
		}
		for _, idx := range indexKeys(e) {
			ok, err := r.store.HExists(ctx, idx, e.ID)
			if err != nil {
				return err
			}
			if !ok {
				if err := r.store.HSet(ctx, idx, e.ID, "1"); err != nil {
					return err
				}
				report.Added++
			}
		}
		return nil
	})
	if err != nil {
		return report, shared.WrapStoreError(expeditionDomain, "ReconcileIndexes", err)
	}
	return report, nil
}

func (r *ExpeditionRepository) byID(ctx context.Context, ids []string) (map[string]*expedition.Expedition, error) {
	records, err := r.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*expedition.Expedition, len(records))
	for _, e := range records {
		out[e.ID] = e
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// indexKeys lists the indexes a record belongs to.
func indexKeys(e *expedition.Expedition) []string {
	return []string{
		StatusIndexKey(e.Status),
		CityIndexKey(e.Location.City),
		TagIndexKey(e.Tag),
	}
}

// reindex queues the index moves between two versions of a record.
func reindex(ctx context.Context, pipe redis.Pipeliner, old, updated *expedition.Expedition) {
	oldKeys, newKeys := indexKeys(old), indexKeys(updated)
	for i := range oldKeys {
		if oldKeys[i] != newKeys[i] {
			pipe.HDel(ctx, oldKeys[i], old.ID)
		}
		pipe.HSet(ctx, newKeys[i], updated.ID, "1")
	}
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func filter(records []*expedition.Expedition, keep func(*expedition.Expedition) bool) []*expedition.Expedition {
	out := make([]*expedition.Expedition, 0, len(records))
	for _, e := range records {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
