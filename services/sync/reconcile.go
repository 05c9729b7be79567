package sync

import (
	"slices"
	"strings"
)

// Reconcile diffs freshly extracted records against the published
// snapshot and emits the minimal change set. Deletes are conservative:
// a snapshot record only dies if some covered range vouches for its
// kind and date, a record whose page was not fetched this run is left
// alone. Output ordering is fixed, inserts and updates by key
// ascending, then deletes by key ascending.
func Reconcile(fresh, snapshot []Record, covered []Range) ChangeSet {
	freshByKey := map[string]Record{}
	for _, r := range fresh {
		freshByKey[r.Key()] = r
	}
	snapByKey := map[string]Record{}
	for _, r := range snapshot {
		snapByKey[r.Key()] = r
	}

	var upserts, deletes ChangeSet
	for key, record := range freshByKey {
		old, ok := snapByKey[key]
		if !ok {
			upserts = append(upserts, ChangeItem{Op: OpInsert, Record: record})
			continue
		}
		if old.ContentHash() != record.ContentHash() {
			upserts = append(upserts, ChangeItem{Op: OpUpdate, Record: record})
		}
	}
	for key, record := range snapByKey {
		if _, ok := freshByKey[key]; ok {
			continue
		}
		if !anyRangeContains(covered, record) {
			continue
		}
		deletes = append(deletes, ChangeItem{Op: OpDelete, Record: record})
	}

	byKey := func(a, b ChangeItem) int {
		return strings.Compare(a.Record.Key(), b.Record.Key())
	}
	slices.SortFunc(upserts, byKey)
	slices.SortFunc(deletes, byKey)
	return append(upserts, deletes...)
}

func anyRangeContains(covered []Range, record Record) bool {
	for _, rng := range covered {
		if rng.Contains(record.Kind, record.Date) {
			return true
		}
	}
	return false
}
