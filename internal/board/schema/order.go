package schema

import "sort"

// DenseItems re-sequences the order values of items so that every sibling
// group forms a dense 0-based sequence. Items are ranked by their current
// order; on ties, ids in preferred come first, then ids ascending. The
// returned slice holds the re-sequenced items grouped by sibling group.
func DenseItems(items []Item, preferred map[string]bool) []Item {
	return resequence(
		CloneItems(items),
		func(i Item) string { return i.Group() },
		func(i Item) int { return i.Order },
		func(i Item) string { return i.ID },
		func(i *Item, order int) { i.Order = order },
		preferred,
	)
}

// DenseFolders re-sequences folder order values into a dense 0-based
// sequence using the same ranking as DenseItems.
func DenseFolders(folders []Folder, preferred map[string]bool) []Folder {
	return resequence(
		CloneFolders(folders),
		func(Folder) string { return RootGroup },
		func(f Folder) int { return f.Order },
		func(f Folder) string { return f.ID },
		func(f *Folder, order int) { f.Order = order },
		preferred,
	)
}

// IsDense reports whether orders is a permutation of 0..len(orders)-1.
func IsDense(orders []int) bool {
	seen := make([]bool, len(orders))
	for _, o := range orders {
		if o < 0 || o >= len(orders) || seen[o] {
			return false
		}
		seen[o] = true
	}
	return true
}

func resequence[T any](
	xs []T,
	group func(T) string,
	order func(T) int,
	id func(T) string,
	set func(*T, int),
	preferred map[string]bool,
) []T {
	groups := make(map[string][]T)
	var keys []string
	for _, x := range xs {
		k := group(x)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], x)
	}
	sort.Strings(keys)

	out := make([]T, 0, len(xs))
	for _, k := range keys {
		members := groups[k]
		sort.SliceStable(members, func(a, b int) bool {
			oa, ob := order(members[a]), order(members[b])
			if oa != ob {
				return oa < ob
			}
			pa, pb := preferred[id(members[a])], preferred[id(members[b])]
			if pa != pb {
				return pa
			}
			return id(members[a]) < id(members[b])
		})
		for i := range members {
			set(&members[i], i)
		}
		out = append(out, members...)
	}
	return out
}
