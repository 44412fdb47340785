package backup

import (
	"fmt"
)

// DefaultKeepCount is the default number of snapshots to retain.
const DefaultKeepCount = 10

// PruneResult contains information about what was pruned.
type PruneResult struct {
	Deleted []Info
	Kept    int
}

// Prune removes old snapshots, keeping only the most recent N. Retention is
// always an explicit caller decision; nothing prunes automatically.
func (m *Manager) Prune(keep int) (*PruneResult, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep count must be non-negative")
	}

	infos, err := m.List()
	if err != nil {
		return nil, err
	}

	result := &PruneResult{}

	// Snapshots are already sorted newest first
	if len(infos) <= keep {
		result.Kept = len(infos)
		return result, nil
	}

	toDelete := infos[keep:]
	result.Kept = keep

	for _, info := range toDelete {
		if err := m.Delete(info.ID); err != nil {
			return nil, fmt.Errorf("failed to delete backup %s: %w", info.ID, err)
		}
		result.Deleted = append(result.Deleted, info)
	}

	return result, nil
}
