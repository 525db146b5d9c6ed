package audit

// Entry is one line in the hash-chained JSONL audit log: a single
// navigation decision. Flat struct fields keep json.Marshal output stable
// so line hashes are reproducible.
type Entry struct {
	Timestamp  string `json:"ts"`
	SessionID  string `json:"session_id"`
	Attempt    uint64 `json:"attempt"`
	URL        string `json:"url"`
	Stage      string `json:"stage,omitempty"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
	PolicyID   string `json:"policy_id,omitempty"`
	PolicyHash string `json:"policy_hash"`
	PrevHash   string `json:"prev_hash"`
}
