package store

import "github.com/shopspring/decimal"

// Changes is what a merge writes.
type Changes struct {
	Inserts []Record
	// Updates carry the new price, source and crawl time of existing keys.
	Updates []Record
}

// Empty reports whether there is nothing to write.
func (c Changes) Empty() bool {
	return len(c.Inserts) == 0 && len(c.Updates) == 0
}

// Result counts the merge decisions.
type Result struct {
	Inserted int
	Updated  int
	Skipped  int
}

// Plan decides per record whether to insert, update or skip it. It does not
// modify existing. Records repeating a key within the batch are decided
// against the earlier record as if it were already persisted.
func Plan(existing KeySet, batch []Record, policy Policy) (Changes, Result) {
	var (
		changes Changes
		result  Result
		// pending keys of this batch: index into Inserts or Updates
		inserted = make(map[Key]int)
		updated  = make(map[Key]int)
	)

	for _, r := range batch {
		k := r.Key()

		stored, persisted := existing[k]
		if i, ok := updated[k]; ok {
			stored = changes.Updates[i].Price
		}
		if i, ok := inserted[k]; ok {
			stored, persisted = changes.Inserts[i].Price, true
		}

		switch {
		case !persisted:
			inserted[k] = len(changes.Inserts)
			changes.Inserts = append(changes.Inserts, r)
			result.Inserted++
		case policy != UpdateIfExists || samePrice(stored, r.Price):
			result.Skipped++
		default:
			if i, ok := inserted[k]; ok {
				changes.Inserts[i].Price = r.Price
				changes.Inserts[i].Source = r.Source
				changes.Inserts[i].CrawlTime = r.CrawlTime
				result.Skipped++
				continue
			}
			if i, ok := updated[k]; ok {
				changes.Updates[i] = r
				result.Skipped++
				continue
			}
			updated[k] = len(changes.Updates)
			changes.Updates = append(changes.Updates, r)
			result.Updated++
		}
	}
	return changes, result
}

func samePrice(a, b decimal.Decimal) bool {
	return a.Equal(b)
}
