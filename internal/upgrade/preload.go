package upgrade

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// PreloadEntry is one entry of Chromium's HSTS preload list
// (transport_security_state_static.json).
type PreloadEntry struct {
	Name              string `json:"name"`
	Policy            string `json:"policy,omitempty"`
	Mode              string `json:"mode,omitempty"`
	IncludeSubDomains bool   `json:"include_subdomains,omitempty"`
}

type preloadList struct {
	Entries []PreloadEntry `json:"entries"`
}

type preloadIndex map[string]PreloadEntry

func indexPreload(entries []PreloadEntry) preloadIndex {
	idx := make(preloadIndex, len(entries))
	for _, e := range entries {
		idx[strings.ToLower(e.Name)] = e
	}
	return idx
}

// LoadPreloadFile reads a preload list in the Chromium JSON layout
// ({"entries": [...]}). Whole-line // comments, as in the upstream file,
// are skipped.
func LoadPreloadFile(path string) ([]PreloadEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preload list: %w", err)
	}
	var list preloadList
	if err := json.Unmarshal(stripLineComments(data), &list); err != nil {
		return nil, fmt.Errorf("parse preload list: %w", err)
	}
	return list.Entries, nil
}

func stripLineComments(data []byte) []byte {
	lines := strings.Split(string(data), "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "//") {
			continue
		}
		out = append(out, l)
	}
	return []byte(strings.Join(out, "\n"))
}
