package thread

import (
	"sort"
	"time"

	"github.com/hirewire/inboxsync/internal/api"
)

// Thread is a reconstructed conversation. It is derived state: recomputed
// from the current message set on every call, never persisted.
type Thread struct {
	ThreadID      string
	Messages      []api.Message // sorted newest first
	LatestMessage api.Message
	Count         int
}

// Grouped is the output of Group: conversations plus the messages that
// carry no conversation key. Interleaving the two partitions for display is
// the caller's job; the only ordering guarantee here is within each
// partition.
type Grouped struct {
	Threads    []Thread
	Standalone []api.Message
}

// sortTime picks the timestamp a message sorts by: date, then sentAt, then
// the epoch. Messages with no usable timestamp sink to the bottom instead
// of failing.
func sortTime(m api.Message) time.Time {
	if !m.Date.IsZero() {
		return m.Date
	}
	if !m.SentAt.IsZero() {
		return m.SentAt
	}
	return time.Unix(0, 0)
}

// Group partitions a flat message list into conversation threads and
// standalone messages. Messages sharing a threadId form one thread, sorted
// newest first; threads are ordered by their latest message, newest first;
// standalone messages are sorted newest first. All sorts are stable, so
// equal timestamps keep their input order and re-renders never reshuffle.
// Group is deterministic and side-effect free.
func Group(messages []api.Message) Grouped {
	byThread := make(map[string][]api.Message)
	var threadOrder []string
	var standalone []api.Message

	for _, m := range messages {
		if m.ThreadID == "" {
			standalone = append(standalone, m)
			continue
		}
		if _, seen := byThread[m.ThreadID]; !seen {
			threadOrder = append(threadOrder, m.ThreadID)
		}
		byThread[m.ThreadID] = append(byThread[m.ThreadID], m)
	}

	threads := make([]Thread, 0, len(threadOrder))
	for _, id := range threadOrder {
		group := byThread[id]
		sort.SliceStable(group, func(i, j int) bool {
			return sortTime(group[i]).After(sortTime(group[j]))
		})
		threads = append(threads, Thread{
			ThreadID:      id,
			Messages:      group,
			LatestMessage: group[0],
			Count:         len(group),
		})
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return sortTime(threads[i].LatestMessage).After(sortTime(threads[j].LatestMessage))
	})

	sort.SliceStable(standalone, func(i, j int) bool {
		return sortTime(standalone[i]).After(sortTime(standalone[j]))
	})

	return Grouped{Threads: threads, Standalone: standalone}
}

// Flatten rebuilds a flat message list from a grouped result, threads first
// then standalone. Feeding the result back through Group reproduces the
// same partition and ordering.
func Flatten(g Grouped) []api.Message {
	var out []api.Message
	for _, t := range g.Threads {
		out = append(out, t.Messages...)
	}
	return append(out, g.Standalone...)
}
