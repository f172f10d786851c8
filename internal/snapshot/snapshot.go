// Package snapshot persists the inbox state as one JSON record in the
// session database.
package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/wppinbox/internal/inbox"
	"github.com/matheus3301/wppinbox/internal/metrics"
	"go.uber.org/zap"
)

// Key is the kv row holding the snapshot.
const Key = "inbox_v1"

// KV is the single-key storage a Persister writes to.
type KV interface {
	GetValue(key string) ([]byte, bool, error)
	PutValue(key string, value []byte) error
	DeleteValue(key string) error
}

// Persister reads and writes full inbox snapshots.
type Persister struct {
	kv      KV
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a persister over kv. m may be nil.
func New(kv KV, m *metrics.Metrics, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{kv: kv, metrics: m, logger: logger}
}

// Save replaces the stored snapshot with snap.
func (p *Persister) Save(snap inbox.Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		p.metrics.ObservePersistError()
		return err
	}
	if err := p.kv.PutValue(Key, data); err != nil {
		p.metrics.ObservePersistError()
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Clear deletes the stored snapshot. Clearing an absent snapshot succeeds.
func (p *Persister) Clear() error {
	if err := p.kv.DeleteValue(Key); err != nil {
		p.metrics.ObservePersistError()
		return fmt.Errorf("clear snapshot: %w", err)
	}
	p.logger.Info("snapshot cleared")
	return nil
}

// Load returns the stored snapshot. A missing, unreadable or corrupt
// snapshot yields an empty one; startup never fails on it.
func (p *Persister) Load() inbox.Snapshot {
	data, ok, err := p.kv.GetValue(Key)
	if err != nil {
		p.logger.Warn("failed to read snapshot, starting empty", zap.Error(err))
		return inbox.Snapshot{}
	}
	if !ok {
		return inbox.Snapshot{}
	}
	snap, err := Decode(data)
	if err != nil {
		p.logger.Warn("discarding unparsable snapshot", zap.Error(err), zap.Int("bytes", len(data)))
		return inbox.Snapshot{}
	}
	p.logger.Info("snapshot loaded",
		zap.Int("conversations", len(snap.Map)),
		zap.Int("aliases", len(snap.Aliases)),
		zap.String("active", snap.Active),
	)
	return snap
}

// Encode renders snap in the persisted JSON form.
func Encode(snap inbox.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses the persisted JSON form.
func Decode(data []byte) (inbox.Snapshot, error) {
	var snap inbox.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return inbox.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
