package syncer

import "tasksync/internal/models"

// Winner names the side whose version is kept.
type Winner int

const (
	LocalWins Winner = iota
	RemoteWins
)

func (w Winner) String() string {
	if w == RemoteWins {
		return "remote"
	}
	return "local"
}

// Resolve decides between diverged local and remote versions of one task with
// last-writer-wins: the later updated_at wins, on a tie the deleted side wins, and on a
// full tie local wins.
//
// This policy can silently discard a concurrent edit. When both sides changed the task,
// the older write is lost entirely even if it touched other fields, and on an exact
// timestamp tie a delete erases a non-deleting edit.
func Resolve(local, remote models.Task) Winner {
	switch {
	case local.UpdatedAt.After(remote.UpdatedAt):
		return LocalWins
	case remote.UpdatedAt.After(local.UpdatedAt):
		return RemoteWins
	case remote.IsDeleted && !local.IsDeleted:
		return RemoteWins
	default:
		return LocalWins
	}
}
