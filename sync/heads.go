package sync

// AdvanceHeads computes the new shared frontier after an apply.
//
// A head that appeared in newLocal but not in oldLocal arrived with the
// changes just applied, so the peer that sent them has it too. A head that
// was already shared, was already local, and is still local stays shared.
// Nothing else is assumed shared. The result must never name a head the
// peer might lack; under-estimating is allowed.
//
// The result is sorted and duplicate-free.
func AdvanceHeads(oldLocal, newLocal, oldShared []Hash) []Hash {
	oldSet := toSet(oldLocal)
	newSet := toSet(newLocal)

	advanced := make([]Hash, 0, len(newLocal)+len(oldShared))
	for _, h := range newLocal {
		if _, ok := oldSet[h]; !ok {
			advanced = append(advanced, h)
		}
	}
	for _, h := range oldShared {
		_, wasLocal := oldSet[h]
		_, isLocal := newSet[h]
		if wasLocal && isLocal {
			advanced = append(advanced, h)
		}
	}
	return SortedUnique(advanced)
}
