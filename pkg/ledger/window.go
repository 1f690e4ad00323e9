package ledger

import (
	"fmt"

	"github.com/google/btree"
)

const indexDegree = 32

// pairKey orders records by (day, from, to, id) so a pair window is a contiguous range.
type pairKey struct {
	day      int64
	from, to string
	id       uint64
}

func lessPair(a, b pairKey) bool {
	if a.day != b.day {
		return a.day < b.day
	}
	if a.from != b.from {
		return a.from < b.from
	}
	if a.to != b.to {
		return a.to < b.to
	}
	return a.id < b.id
}

// recipientKey orders records by (to, timestamp, day, id). Descending over one
// recipient yields its records newest first across every sender.
type recipientKey struct {
	to        string
	timestamp int64
	day       int64
	id        uint64
}

func lessRecipient(a, b recipientKey) bool {
	if a.to != b.to {
		return a.to < b.to
	}
	if a.timestamp != b.timestamp {
		return a.timestamp < b.timestamp
	}
	if a.day != b.day {
		return a.day < b.day
	}
	return a.id < b.id
}

// unsettledKey orders records awaiting settlement by (from, day, id), i.e. insertion order per sender.
type unsettledKey struct {
	from string
	day  int64
	id   uint64
}

func lessUnsettled(a, b unsettledKey) bool {
	if a.from != b.from {
		return a.from < b.from
	}
	if a.day != b.day {
		return a.day < b.day
	}
	return a.id < b.id
}

// Window stores transfer records partitioned by day with the secondary orderings the
// settlement and ranking scans need. It is not safe for concurrent use; the Ledger
// serializes access.
type Window struct {
	records     map[RecordRef]Record
	nextID      map[int64]uint64
	byPair      *btree.BTreeG[pairKey]
	byRecipient *btree.BTreeG[recipientKey]
	unsettled   *btree.BTreeG[unsettledKey]
}

func NewWindow() *Window {
	return &Window{
		records:     make(map[RecordRef]Record),
		nextID:      make(map[int64]uint64),
		byPair:      btree.NewG[pairKey](indexDegree, lessPair),
		byRecipient: btree.NewG[recipientKey](indexDegree, lessRecipient),
		unsettled:   btree.NewG[unsettledKey](indexDegree, lessUnsettled),
	}
}

// NextID reserves the next record id of a day. Ids are never reused, even after eviction.
func (w *Window) NextID(day int64) uint64 {
	id := w.nextID[day]
	w.nextID[day] = id + 1
	return id
}

// releaseID hands back the last reservation of a day.
func (w *Window) releaseID(day int64, id uint64) {
	if w.nextID[day] != id+1 {
		return
	}
	if id == 0 {
		delete(w.nextID, day)
		return
	}
	w.nextID[day] = id
}

// Put inserts a new record.
func (w *Window) Put(r Record) error {
	ref := r.Ref()
	if _, ok := w.records[ref]; ok {
		return fmt.Errorf("record %d of day %d: %w", r.ID, r.Day, ErrDuplicateKey)
	}
	w.records[ref] = r
	if r.ID >= w.nextID[r.Day] {
		w.nextID[r.Day] = r.ID + 1
	}
	w.byPair.ReplaceOrInsert(pairKey{day: r.Day, from: r.From, to: r.To, id: r.ID})
	w.byRecipient.ReplaceOrInsert(recipientKey{to: r.To, timestamp: r.Timestamp, day: r.Day, id: r.ID})
	if !r.Settled {
		w.unsettled.ReplaceOrInsert(unsettledKey{from: r.From, day: r.Day, id: r.ID})
	}
	return nil
}

// Get returns the record at ref.
func (w *Window) Get(ref RecordRef) (Record, bool) {
	r, ok := w.records[ref]
	return r, ok
}

// Delete removes the record at ref from every index.
func (w *Window) Delete(ref RecordRef) (Record, bool) {
	r, ok := w.records[ref]
	if !ok {
		return Record{}, false
	}
	delete(w.records, ref)
	w.byPair.Delete(pairKey{day: r.Day, from: r.From, to: r.To, id: r.ID})
	w.byRecipient.Delete(recipientKey{to: r.To, timestamp: r.Timestamp, day: r.Day, id: r.ID})
	w.unsettled.Delete(unsettledKey{from: r.From, day: r.Day, id: r.ID})
	return r, true
}

// SetSettled flips the settled flag of a record and keeps the unsettled index in step.
func (w *Window) SetSettled(ref RecordRef, settled bool) (Record, bool) {
	r, ok := w.records[ref]
	if !ok {
		return Record{}, false
	}
	prev := r
	r.Settled = settled
	w.records[ref] = r
	k := unsettledKey{from: r.From, day: r.Day, id: r.ID}
	if settled {
		w.unsettled.Delete(k)
	} else {
		w.unsettled.ReplaceOrInsert(k)
	}
	return prev, true
}

// Pair returns the window of (day, from, to) in id order.
func (w *Window) Pair(day int64, from, to string) []Record {
	var out []Record
	w.byPair.AscendGreaterOrEqual(pairKey{day: day, from: from, to: to}, func(k pairKey) bool {
		if k.day != day || k.from != from || k.to != to {
			return false
		}
		out = append(out, w.records[RecordRef{Day: k.day, ID: k.id}])
		return true
	})
	return out
}

// Unsettled returns the refs of records from an account that still await settlement, oldest first.
func (w *Window) Unsettled(from string) []RecordRef {
	var out []RecordRef
	w.unsettled.AscendGreaterOrEqual(unsettledKey{from: from}, func(k unsettledKey) bool {
		if k.from != from {
			return false
		}
		out = append(out, RecordRef{Day: k.day, ID: k.id})
		return true
	})
	return out
}

// UnsettledSenders lists every account with at least one unsettled record.
func (w *Window) UnsettledSenders() []string {
	var out []string
	w.unsettled.Ascend(func(k unsettledKey) bool {
		if len(out) == 0 || out[len(out)-1] != k.from {
			out = append(out, k.from)
		}
		return true
	})
	return out
}

// Received walks the records sent to an account newest first until fn returns false.
func (w *Window) Received(to string, fn func(Record) bool) {
	// to+"\x00" sorts after every key of to and before any other recipient.
	w.byRecipient.DescendLessOrEqual(recipientKey{to: to + "\x00"}, func(k recipientKey) bool {
		if k.to != to {
			return k.to > to
		}
		return fn(w.records[RecordRef{Day: k.day, ID: k.id}])
	})
}

// Day returns every record of a day, ordered by pair then id.
func (w *Window) Day(day int64) []Record {
	var out []Record
	w.byPair.AscendGreaterOrEqual(pairKey{day: day}, func(k pairKey) bool {
		if k.day != day {
			return false
		}
		out = append(out, w.records[RecordRef{Day: k.day, ID: k.id}])
		return true
	})
	return out
}

// Len is the number of retained records.
func (w *Window) Len() int { return len(w.records) }

// Reset drops every record and id reservation.
func (w *Window) Reset() {
	w.records = make(map[RecordRef]Record)
	w.nextID = make(map[int64]uint64)
	w.byPair.Clear(false)
	w.byRecipient.Clear(false)
	w.unsettled.Clear(false)
}
