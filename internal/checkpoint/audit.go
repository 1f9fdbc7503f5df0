package checkpoint

import (
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
)

// AuditLog is an embedded, queryable local record of every
// register/deregister event, independent of (and always active even
// without) a remote snapshot Backend. Grounded on the teacher's embedded
// key/value usage pattern; buntdb is an aistore direct dependency.
type AuditLog struct {
	db *buntdb.DB
}

// OpenAuditLog opens (creating if absent) a buntdb file at path, or an
// in-memory store when path is ":memory:".
func OpenAuditLog(path string) (*AuditLog, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: opening audit log %s: %w", path, err)
	}
	return &AuditLog{db: db}, nil
}

// Record appends one event keyed by (tokenID, timestamp) so entries sort
// chronologically within a token's history under buntdb's default
// byte-order index.
func (a *AuditLog) Record(tokenID, event string, at time.Time) error {
	key := fmt.Sprintf("%s:%020d", tokenID, at.UnixNano())
	return a.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, event, nil)
		return err
	})
}

// History returns every recorded event for tokenID, oldest first.
func (a *AuditLog) History(tokenID string) ([]string, error) {
	var events []string
	err := a.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(tokenID+":*", func(key, value string) bool {
			events = append(events, value)
			return true
		})
	})
	return events, err
}

func (a *AuditLog) Close() error { return a.db.Close() }
