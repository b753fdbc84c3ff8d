package reconcile

import (
	"cmp"
	"slices"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// UnknownPriority ranks statuses missing from a Priorities table.
const UnknownPriority = 99

// Priorities ranks provider subscription statuses; lower wins.
type Priorities map[string]int

// DefaultPriorities ranks live subscriptions ahead of defunct ones.
func DefaultPriorities() Priorities {
	return Priorities{
		"active":             1,
		"trialing":           2,
		"past_due":           3,
		"canceled":           4,
		"unpaid":             5,
		"incomplete":         6,
		"incomplete_expired": 7,
		"paused":             8,
	}
}

// Rank returns the priority of status, or UnknownPriority.
func (p Priorities) Rank(status string) int {
	if rank, ok := p[status]; ok {
		return rank
	}
	return UnknownPriority
}

// Compare orders subscriptions by ascending status priority, then by
// descending creation time. The id breaks any remaining tie so the order is
// total and never depends on input order.
func Compare(p Priorities, a, b billing.Subscription) int {
	if c := cmp.Compare(p.Rank(a.Status), p.Rank(b.Status)); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Created, a.Created); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Select returns the winning subscription, or false when subs is empty.
// The caller's slice is not reordered.
func Select(p Priorities, subs []billing.Subscription) (billing.Subscription, bool) {
	if len(subs) == 0 {
		return billing.Subscription{}, false
	}
	sorted := slices.Clone(subs)
	slices.SortFunc(sorted, func(a, b billing.Subscription) int {
		return Compare(p, a, b)
	})
	return sorted[0], true
}
