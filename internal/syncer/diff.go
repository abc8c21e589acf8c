package syncer

import (
	"github.com/satchelapp/satchel/internal/localdb"
	"github.com/satchelapp/satchel/internal/record"
)

// diff is the outcome of comparing local and remote metadata sets for one
// collection. Everything is decided by id plus updatedAt, per-record:
//
//   - Download: remote has the record and it is strictly newer, or local
//     lacks it entirely.
//   - Upload: local is strictly newer, or the record was created locally
//     and never uploaded.
//   - DeleteLocal: local still holds a previously synced, unmodified copy
//     of a record the remote no longer has - the remote deleted it.
//
// Equal timestamps fall to neither list: the remote side is canonical once
// synced and the payloads are taken as identical.
//
// A dirty local record missing remotely is re-uploaded, not deleted: the
// local edit is the later write and last-write-wins keeps it.
type diff struct {
	Download    []string
	Upload      []string
	DeleteLocal []string
}

// computeDiff builds the per-record work lists from the two metadata sets.
func computeDiff(local []localdb.DocMeta, remoteMetas []record.Metadata) diff {
	remoteByID := make(map[string]record.Metadata, len(remoteMetas))
	for _, m := range remoteMetas {
		remoteByID[m.ID] = m
	}
	localByID := make(map[string]localdb.DocMeta, len(local))
	for _, m := range local {
		localByID[m.ID] = m
	}

	var d diff

	for _, rm := range remoteMetas {
		lm, ok := localByID[rm.ID]
		switch {
		case !ok:
			d.Download = append(d.Download, rm.ID)
		case rm.UpdatedAt > lm.UpdatedAt:
			d.Download = append(d.Download, rm.ID)
		case lm.UpdatedAt > rm.UpdatedAt:
			d.Upload = append(d.Upload, rm.ID)
		}
	}

	for _, lm := range local {
		if _, ok := remoteByID[lm.ID]; ok {
			continue
		}
		if lm.Synced && !lm.Dirty {
			d.DeleteLocal = append(d.DeleteLocal, lm.ID)
		} else {
			d.Upload = append(d.Upload, lm.ID)
		}
	}

	return d
}
