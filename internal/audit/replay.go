package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// ReplayFilter selects entries for replay. Zero fields match everything.
type ReplayFilter struct {
	SessionID string
	Decision  string
	From      time.Time
	To        time.Time
}

// ReplaySummary holds decision counts for a replay.
type ReplaySummary struct {
	Total          int    `json:"total"`
	AllowCount     int    `json:"allow_count"`
	BlockCount     int    `json:"block_count"`
	ReissueCount   int    `json:"reissue_count"`
	CancelCount    int    `json:"cancel_count"`
	Sessions       int    `json:"sessions"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	SessionID string        `json:"session_id,omitempty"`
	Entries   []Entry       `json:"entries"`
	Summary   ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{SessionID: filter.SessionID}
	sessions := map[string]bool{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		if !filter.matches(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		sessions[entry.SessionID] = true
		updateSummary(&result.Summary, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	result.Summary.Sessions = len(sessions)
	return result, nil
}

// Tail returns the last n entries of the log, oldest first. n <= 0
// returns every entry.
func Tail(path string, n int) ([]Entry, error) {
	result, err := Replay(path, ReplayFilter{})
	if err != nil {
		return nil, err
	}
	entries := result.Entries
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

func (f ReplayFilter) matches(entry Entry) bool {
	if f.SessionID != "" && entry.SessionID != f.SessionID {
		return false
	}
	if f.Decision != "" && !strings.EqualFold(entry.Decision, f.Decision) {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, entry.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func updateSummary(s *ReplaySummary, entry Entry) {
	s.Total++

	switch strings.ToLower(entry.Decision) {
	case "allow":
		s.AllowCount++
	case "block":
		s.BlockCount++
	case "reissue":
		s.ReissueCount++
	case "cancel":
		s.CancelCount++
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
