package service

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Grade scores autosaved answers against an answer key as a percentage.
// answers maps position to a JSON array of selected option ids, the shape the
// autosave hash stores. A question counts only when the selected set equals
// the correct set exactly.
func Grade(key map[int][]string, answers map[string]string) float64 {
	if len(key) == 0 {
		return 0
	}

	correct := 0
	for field, raw := range answers {
		pos, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		want, ok := key[pos]
		if !ok {
			continue
		}
		var got []string
		if err := json.Unmarshal([]byte(raw), &got); err != nil {
			continue
		}
		if sameSet(want, got) {
			correct++
		}
	}
	return float64(correct) / float64(len(key)) * 100
}

func sameSet(sortedWant, got []string) bool {
	if len(got) == 0 {
		return false
	}
	dedup := make(map[string]struct{}, len(got))
	for _, id := range got {
		dedup[id] = struct{}{}
	}
	if len(dedup) != len(sortedWant) {
		return false
	}
	ids := make([]string, 0, len(dedup))
	for id := range dedup {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for i := range ids {
		if ids[i] != sortedWant[i] {
			return false
		}
	}
	return true
}
