package backup

import "github.com/edvin/photovault/internal/model"

// Differ decides upload necessity by comparing a candidate's content
// checksum against the FileState ledger. Checksum is authoritative over
// mtime and size: a touched-but-unmodified file is unchanged, a rewritten
// file with the same size is changed.
type Differ struct {
	incremental bool
	states      map[string]model.FileState
}

func NewDiffer(incremental bool, states map[string]model.FileState) *Differ {
	return &Differ{incremental: incremental, states: states}
}

// ShouldUpload reports whether the candidate's content differs from the
// last uploaded state. In full-backup mode every candidate uploads.
func (d *Differ) ShouldUpload(c Candidate) bool {
	if !d.incremental {
		return true
	}
	prior, ok := d.states[c.RelPath]
	if !ok {
		return true
	}
	return prior.Checksum != c.Checksum
}
