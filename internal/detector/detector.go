// Package detector diffs a freshly fetched catalog against the last snapshot.
package detector

import "stock_monitor/internal/model"

// Result is the outcome of comparing one fetch with the previous snapshot.
type Result struct {
	// Snapshot replaces the previous snapshot wholesale.
	Snapshot model.Snapshot
	// Changes lists in-stock items that are new, restocked or updated,
	// in fetch order.
	Changes []model.Change
	// ColdStart is set when the previous snapshot was empty. No changes
	// are reported on a cold start.
	ColdStart bool
}

// Detect classifies every fetched item against prev.
//
// Classification priority is new, then restocked, then updated. Items that
// are out of stock never produce a change. Items missing from the fetch are
// not carried into the new snapshot.
func Detect(items []model.Item, prev model.Snapshot) Result {
	res := Result{
		Snapshot:  make(model.Snapshot, len(items)),
		ColdStart: len(prev) == 0,
	}

	for _, item := range items {
		hasStock := item.HasStock()
		res.Snapshot[item.ID] = model.ItemState{HasStock: hasStock, UpdatedAt: item.UpdatedAt}

		if res.ColdStart || !hasStock {
			continue
		}

		kind, ok := Classify(item, prev)
		if !ok {
			continue
		}
		res.Changes = append(res.Changes, model.Change{
			Kind:      kind,
			Item:      item,
			StockText: item.StockText(),
		})
	}

	return res
}

// Classify returns the change kind of item relative to prev, or false when
// the item is unchanged.
func Classify(item model.Item, prev model.Snapshot) (model.ChangeKind, bool) {
	state, seen := prev[item.ID]
	switch {
	case !seen:
		return model.ChangeNew, true
	case !state.HasStock && item.HasStock():
		return model.ChangeRestocked, true
	case state.UpdatedAt != item.UpdatedAt:
		return model.ChangeUpdated, true
	}
	return "", false
}
