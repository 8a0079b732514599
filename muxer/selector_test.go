package muxer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testTable(ledCount int, slots map[int]deadline) *table {
	t := newTable(ledCount)
	for p, d := range slots {
		t.insert(&InputInfo{Priority: p, Component: ComponentColor, deadline: d})
	}
	return t
}

func TestSelectVisible(t *testing.T) {
	persistent := deadline{kind: deadlinePersistent}
	inactive := deadline{kind: deadlineInactive}
	timed := deadline{kind: deadlineTimed, at: 5000}

	tests := []struct {
		name     string
		slots    map[int]deadline
		auto     bool
		manual   int
		want     int
		fellBack bool
	}{
		{
			name: "empty table falls back to background",
			auto: true, manual: PriorityLowest,
			want: PriorityLowest,
		},
		{
			name:  "smallest active priority wins in auto mode",
			slots: map[int]deadline{50: persistent, 100: persistent},
			auto:  true, manual: PriorityLowest,
			want: 50,
		},
		{
			name:  "inactive slots are skipped",
			slots: map[int]deadline{20: inactive, 100: persistent},
			auto:  true, manual: PriorityLowest,
			want: 100,
		},
		{
			name:  "timed slots count as active",
			slots: map[int]deadline{90: timed},
			auto:  true, manual: PriorityLowest,
			want: 90,
		},
		{
			name:  "priority zero wins over everything",
			slots: map[int]deadline{0: persistent, 10: persistent},
			auto:  false, manual: 10,
			want: 0,
		},
		{
			name:  "inactive priority zero does not win",
			slots: map[int]deadline{0: inactive, 10: persistent},
			auto:  true, manual: PriorityLowest,
			want: 10,
		},
		{
			name:  "manual pin overrides smaller priority",
			slots: map[int]deadline{30: persistent, 60: persistent},
			auto:  false, manual: 60,
			want: 60,
		},
		{
			name:  "vanished manual pin falls back to auto",
			slots: map[int]deadline{30: persistent},
			auto:  false, manual: 60,
			want: 30, fellBack: true,
		},
		{
			name:  "inactive manual pin falls back to auto",
			slots: map[int]deadline{30: persistent, 60: inactive},
			auto:  false, manual: 60,
			want: 30, fellBack: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, fellBack := selectVisible(testTable(3, tc.slots), tc.auto, tc.manual)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.fellBack, fellBack)
		})
	}
}
