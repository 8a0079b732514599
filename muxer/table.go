package muxer

import "sort"

// table is the priority-keyed store of input slots. The background entry at
// PriorityLowest is inserted on construction and is never absent.
type table struct {
	ledCount int
	entries  map[int]*InputInfo
}

func newTable(ledCount int) *table {
	t := &table{
		ledCount: ledCount,
		entries:  make(map[int]*InputInfo),
	}
	t.entries[PriorityLowest] = newBackground(ledCount)
	return t
}

// newBackground builds the always-present solid-black base slot.
func newBackground(ledCount int) *InputInfo {
	return &InputInfo{
		Priority:  PriorityLowest,
		Component: ComponentColor,
		Origin:    "System",
		Colors:    make([]RGB, ledCount),
		deadline:  deadline{kind: deadlinePersistent},
	}
}

func (t *table) contains(p int) bool {
	_, ok := t.entries[p]
	return ok
}

func (t *table) get(p int) (*InputInfo, bool) {
	e, ok := t.entries[p]
	return e, ok
}

// getOrDefault returns the slot at p, falling back to the background entry.
func (t *table) getOrDefault(p int) *InputInfo {
	if e, ok := t.entries[p]; ok {
		return e
	}
	return t.entries[PriorityLowest]
}

func (t *table) insert(e *InputInfo) {
	t.entries[e.Priority] = e
}

func (t *table) remove(p int) {
	delete(t.entries, p)
}

// keys returns the current priorities in ascending order.
func (t *table) keys() []int {
	out := make([]int, 0, len(t.entries))
	for p := range t.entries {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// resizeLEDBuffers resizes every slot's color buffer to n entries. Newly
// grown slots take the value of element 0, black when the buffer was empty.
func (t *table) resizeLEDBuffers(n int) {
	t.ledCount = n
	for _, e := range t.entries {
		if len(e.Colors) == n {
			continue
		}
		fill := RGB{}
		if len(e.Colors) > 0 {
			fill = e.Colors[0]
		}
		resized := make([]RGB, n)
		copied := copy(resized, e.Colors)
		for i := copied; i < n; i++ {
			resized[i] = fill
		}
		e.Colors = resized
	}
}

// activeCount reports how many slots currently take part in selection.
func (t *table) activeCount() int {
	n := 0
	for _, e := range t.entries {
		if e.deadline.active() {
			n++
		}
	}
	return n
}
