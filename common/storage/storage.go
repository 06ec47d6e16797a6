package storage

import (
	"sort"

	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

// sortQueueItems orders items oldest first so drain order survives restarts,
// with the id as a tie-break for equal timestamps.
func sortQueueItems(items []*models.QueueItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].Id.String() < items[j].Id.String()
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
