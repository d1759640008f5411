package history

import "fmt"

// Snapshot is the persistable form of a bound History
type Snapshot struct {
	Key      string    `json:"key"`
	Versions []Version `json:"versions"`
	Index    int       `json:"index"`
}

// Snapshot captures the history. An unbound history yields an empty snapshot.
func (h *History) Snapshot() Snapshot {
	if !h.bound {
		return Snapshot{}
	}
	return Snapshot{Key: h.key, Versions: h.Versions(), Index: h.index}
}

// Restore replaces the history with snap
func (h *History) Restore(snap Snapshot) error {
	if len(snap.Versions) == 0 {
		return fmt.Errorf("snapshot for %q has no versions", snap.Key)
	}
	if snap.Index < 0 || snap.Index >= len(snap.Versions) {
		return fmt.Errorf("%w: snapshot index %d", ErrVersionOutOfRange, snap.Index)
	}
	h.key = snap.Key
	h.bound = true
	h.versions = append([]Version(nil), snap.Versions...)
	h.index = snap.Index
	h.trim()
	return nil
}
