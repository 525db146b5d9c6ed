package audit

import (
	"go.uber.org/zap"

	"github.com/ppiankov/navguard/internal/logging"
	"github.com/ppiankov/navguard/internal/navigation"
)

// Recorder writes navigation decisions of one session to a Log. It
// implements navigation.Recorder.
type Recorder struct {
	log        *Log
	sessionID  string
	policyHash func() string
	zlog       *zap.Logger
}

// NewRecorder returns a recorder for sessionID. policyHash, when set, is
// asked for the active policy hash on every entry so reloads show up in the
// log.
func NewRecorder(l *Log, sessionID string, policyHash func() string, zlog *zap.Logger) *Recorder {
	return &Recorder{
		log:        l,
		sessionID:  sessionID,
		policyHash: policyHash,
		zlog:       logging.OrNop(zlog),
	}
}

// Record appends e. Write failures are logged, never returned: the
// navigation has already been decided.
func (r *Recorder) Record(e navigation.Event) {
	entry := Entry{
		SessionID: r.sessionID,
		Attempt:   uint64(e.Attempt),
		URL:       e.URL,
		Stage:     e.Stage,
		Decision:  e.Verdict.String(),
		Reason:    e.Reason,
		PolicyID:  e.PolicyID,
	}
	if r.policyHash != nil {
		entry.PolicyHash = r.policyHash()
	}
	if err := r.log.Record(entry); err != nil {
		r.zlog.Error("audit write failed",
			zap.String("path", r.log.Path()),
			zap.Uint64("attempt", entry.Attempt),
			zap.Error(err))
	}
}
