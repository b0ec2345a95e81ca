package conversation

import "prefrontal/app/model"

const maxActionHistory = 10

// actionHistory keeps the most recent actions, oldest first.
type actionHistory struct {
	entries []model.ActionEntry
}

func (h *actionHistory) add(entry model.ActionEntry) {
	h.entries = append(h.entries, entry)
	if len(h.entries) > maxActionHistory {
		h.entries = h.entries[len(h.entries)-maxActionHistory:]
	}
}

func (h *actionHistory) list() []model.ActionEntry {
	result := make([]model.ActionEntry, len(h.entries))
	copy(result, h.entries)

	return result
}
