package ledger

import (
	"fmt"
	"sort"
)

// StatusList names an append-only list of accounts that reached a status.
type StatusList string

const (
	ListResidents  StatusList = "residents"
	ListCitizens   StatusList = "citizens"
	ListReputables StatusList = "reputables"
	ListRegens     StatusList = "regens"
)

// StatusLists in counter order.
var StatusLists = []StatusList{ListResidents, ListCitizens, ListReputables, ListRegens}

// SizeID returns the counter that follows the list.
func (s StatusList) SizeID() string {
	switch s {
	case ListResidents:
		return SizeResidents
	case ListCitizens:
		return SizeCitizens
	case ListReputables:
		return SizeReputables
	case ListRegens:
		return SizeRegens
	}
	return ""
}

// OrganizationsOnly reports whether only organizations may be listed.
func (s StatusList) OrganizationsOnly() bool {
	return s == ListReputables || s == ListRegens
}

func ParseStatusList(v string) (StatusList, error) {
	for _, s := range StatusLists {
		if string(s) == v {
			return s, nil
		}
	}
	return "", fmt.Errorf("status list %q: %w", v, ErrInvariantViolation)
}

type StatusEntry struct {
	List      StatusList `json:"list"`
	ID        uint64     `json:"id"`
	Account   string     `json:"account"`
	Timestamp int64      `json:"timestamp"`
}

// HistoryEntry is a free-form audit line attached to an account.
type HistoryEntry struct {
	ID        uint64 `json:"id"`
	Account   string `json:"account"`
	Action    string `json:"action"`
	Amount    int64  `json:"amount"`
	Meta      string `json:"meta,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type statusBook struct {
	lists   map[StatusList][]StatusEntry
	members map[StatusList]map[string]struct{}
}

func newStatusBook() *statusBook {
	b := &statusBook{
		lists:   make(map[StatusList][]StatusEntry),
		members: make(map[StatusList]map[string]struct{}),
	}
	for _, s := range StatusLists {
		b.members[s] = make(map[string]struct{})
	}
	return b
}

func (b *statusBook) has(list StatusList, account string) bool {
	_, ok := b.members[list][account]
	return ok
}

func (b *statusBook) append(e StatusEntry) {
	b.lists[e.List] = append(b.lists[e.List], e)
	b.members[e.List][e.Account] = struct{}{}
}

func (b *statusBook) pop(list StatusList) {
	entries := b.lists[list]
	if len(entries) == 0 {
		return
	}
	last := entries[len(entries)-1]
	b.lists[list] = entries[:len(entries)-1]
	delete(b.members[list], last.Account)
}

func (b *statusBook) nextID(list StatusList) uint64 {
	entries := b.lists[list]
	if len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].ID + 1
}

func (b *statusBook) entries(list StatusList) []StatusEntry {
	return append([]StatusEntry(nil), b.lists[list]...)
}

type historyBook struct {
	seq     uint64
	entries map[string][]HistoryEntry
}

func newHistoryBook() *historyBook {
	return &historyBook{entries: make(map[string][]HistoryEntry)}
}

func (h *historyBook) append(e HistoryEntry) {
	h.entries[e.Account] = append(h.entries[e.Account], e)
	if e.ID >= h.seq {
		h.seq = e.ID + 1
	}
}

func (h *historyBook) pop(account string) {
	list := h.entries[account]
	if len(list) == 0 {
		return
	}
	h.entries[account] = list[:len(list)-1]
	if len(h.entries[account]) == 0 {
		delete(h.entries, account)
	}
	h.seq--
}

func (h *historyBook) list(account string) []HistoryEntry {
	out := append([]HistoryEntry(nil), h.entries[account]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
