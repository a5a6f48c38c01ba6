package eventdb

import (
	"sort"

	"github.com/patina-fw/dxecore/internal/tpl"
)

// pendingEntry is one queued notification, tagged with its insertion
// order so that entries at the same TPL dispatch FIFO. Grounded on
// TaggedEventNotification in UefiEventLib/src/lib.rs, whose custom Ord
// sorts by descending notify_tpl, then ascending tag.
type pendingEntry struct {
	event     ID
	notifyTPL tpl.Level
	function  NotifyFunc
	context   any
	tag       uint64
}

// pendingQueue is an insertion-sorted multiset of pendingEntry, ordered
// highest TPL first and FIFO within a TPL. A plain slice searched with
// sort.Search is simpler here than container/heap: the original's
// BTreeSet only ever needs front-peek, pop-front and a membership test,
// none of which benefit from heap's "arbitrary extract-min" API.
type pendingQueue struct {
	entries []pendingEntry
}

// less reports whether a sorts before b: higher TPL first, lower tag
// (earlier insertion) first within the same TPL.
func less(a, b pendingEntry) bool {
	if a.notifyTPL != b.notifyTPL {
		return a.notifyTPL > b.notifyTPL
	}
	return a.tag < b.tag
}

func (q *pendingQueue) insert(e pendingEntry) {
	i := sort.Search(len(q.entries), func(i int) bool { return less(e, q.entries[i]) })
	q.entries = append(q.entries, pendingEntry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
}

func (q *pendingQueue) contains(id ID) bool {
	for _, e := range q.entries {
		if e.event == id {
			return true
		}
	}
	return false
}

func (q *pendingQueue) front() (pendingEntry, bool) {
	if len(q.entries) == 0 {
		return pendingEntry{}, false
	}
	return q.entries[0], true
}

func (q *pendingQueue) popFront() {
	if len(q.entries) == 0 {
		return
	}
	q.entries = q.entries[1:]
}
