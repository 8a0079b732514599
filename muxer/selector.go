package muxer

// selectVisible computes the priority that should be painted onto the strip.
// It is a pure function of the table and the selection mode.
//
// Rules, in order: priority 0 wins outright when present and active; in
// auto-select mode the numerically smallest active priority wins; a manual
// pin wins while it is still active. fellBack reports that a manual pin
// vanished and the caller must flip the mode back to auto-select.
func selectVisible(t *table, autoSelect bool, manualPriority int) (visible int, fellBack bool) {
	if e, ok := t.entries[0]; ok && e.deadline.active() {
		return 0, false
	}

	min := PriorityLowest
	manualActive := false
	for p, e := range t.entries {
		if !e.deadline.active() {
			continue
		}
		if p < min {
			min = p
		}
		if p == manualPriority {
			manualActive = true
		}
	}

	if autoSelect {
		return min, false
	}
	if !manualActive {
		return min, true
	}
	return manualPriority, false
}
