package storage

import (
	"sort"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

// sortByUploadedAtDesc orders records most-recently-uploaded first, with id
// as the tiebreak so listings are deterministic.
func sortByUploadedAtDesc(recs []interfaces.POIRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].UploadedAt.Equal(recs[j].UploadedAt) {
			return recs[i].UploadedAt.After(recs[j].UploadedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
