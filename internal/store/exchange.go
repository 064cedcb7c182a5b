package store

import (
	"github.com/google/btree"

	"github.com/murmur/murmur-core/internal/message"
)

// priorityItem orders candidates by descending combined priority for
// btree.Ascend — so Ascend over a btree built with a "greater" inverted
// less function yields a descending walk. google/btree is used here as
// the teacher's dependency tree already pulls it in (via gvisor); it
// replaces a manual sort.Slice with an ordered-iteration structure, the
// same role it plays as a routing/ordering index elsewhere in the pack.
//
// Combined priority decays continuously with message age (spec §4.3),
// so this index is rebuilt fresh on every call rather than kept
// persistently up to date — a stale btree would misorder results.
type priorityItem struct {
	priority float64
	id       string
}

func priorityLess(a, b priorityItem) bool {
	if a.priority != b.priority {
		return a.priority > b.priority // descending
	}
	return a.id < b.id // stable tiebreak
}

// GetForExchange returns up to limit messages ordered by combined
// priority descending, filtered to min_contacts_for_hop <= sharedFriends
// and not expired (spec §4.3 get_for_exchange).
func (s *Store) GetForExchange(sharedFriends int, limit int) []*message.Message {
	all := s.GetAll()
	now := message.NowMillis()

	tree := btree.NewG(32, priorityLess)
	byID := make(map[string]*message.Message, len(all))
	for _, m := range all {
		if m.MinContactsForHop > sharedFriends {
			continue
		}
		if m.Expired(now) {
			continue
		}
		age := now - m.ReceivedTimestamp
		if m.ReceivedTimestamp == 0 {
			age = now - m.Timestamp
		}
		p := message.Combined(m.TrustScore, m.Priority, age)
		tree.ReplaceOrInsert(priorityItem{priority: p, id: m.MessageID})
		byID[m.MessageID] = m
	}

	out := make([]*message.Message, 0, limit)
	tree.Ascend(func(item priorityItem) bool {
		if len(out) >= limit {
			return false
		}
		out = append(out, byID[item.id])
		return true
	})
	return out
}
