package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// CrossReferences maps a verse id to related verse ids, already sorted by
// relevance when the dataset was built.
type CrossReferences map[string][]string

// SortedKeys gives a stable write order.
func (c CrossReferences) SortedKeys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// VerseRange is an inclusive span of verses spoken by one speaker.
type VerseRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r VerseRange) Contains(verse int) bool {
	return verse >= r.Start && verse <= r.End
}

// UnmarshalJSON accepts 7, "7", "3-5", [3, 5] and {"start":3,"end":5}.
func (r *VerseRange) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*r = VerseRange{Start: n, End: n}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return r.parse(s)
	}

	var pair []int
	if err := json.Unmarshal(data, &pair); err == nil {
		switch len(pair) {
		case 1:
			*r = VerseRange{Start: pair[0], End: pair[0]}
		case 2:
			*r = VerseRange{Start: pair[0], End: pair[1]}
		default:
			return fmt.Errorf("verse range must have 1 or 2 elements, got %d", len(pair))
		}
		return r.check()
	}

	type plain VerseRange
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unrecognised verse range %s", string(data))
	}
	*r = VerseRange(p)
	return r.check()
}

func (r *VerseRange) parse(s string) error {
	startStr, endStr, isSpan := strings.Cut(strings.TrimSpace(s), "-")
	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return fmt.Errorf("bad verse range %q: %w", s, err)
	}
	end := start
	if isSpan {
		end, err = strconv.Atoi(strings.TrimSpace(endStr))
		if err != nil {
			return fmt.Errorf("bad verse range %q: %w", s, err)
		}
	}
	*r = VerseRange{Start: start, End: end}
	return r.check()
}

func (r *VerseRange) check() error {
	if r.Start <= 0 || r.End < r.Start {
		return fmt.Errorf("invalid verse range %d-%d", r.Start, r.End)
	}
	return nil
}

// RedLetters maps book -> chapter -> spoken-word ranges.
type RedLetters map[string]map[string][]VerseRange

func LoadCrossReferences(path string) (CrossReferences, error) {
	refs := CrossReferences{}
	if err := loadJSONFile(path, &refs); err != nil {
		return nil, fmt.Errorf("failed to load cross references: %w", err)
	}
	return refs, nil
}

func LoadRedLetters(path string) (RedLetters, error) {
	rl := RedLetters{}
	if err := loadJSONFile(path, &rl); err != nil {
		return nil, fmt.Errorf("failed to load red letter data: %w", err)
	}
	return rl, nil
}

// loadJSONFile leaves v untouched when path is empty or does not exist;
// both datasets are optional.
func loadJSONFile(path string, v any) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}
