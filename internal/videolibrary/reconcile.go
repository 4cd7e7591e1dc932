package videolibrary

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"fknsrs.biz/p/coursevideos/models"
)

type listingEntry struct {
	ID        string
	DateAdded int64
}

func listingEntries(records []models.VideoRecord) []listingEntry {
	return lo.Map(records, func(r models.VideoRecord, _ int) listingEntry {
		return listingEntry{ID: r.ID, DateAdded: r.DateAdded.UnixNano()}
	})
}

// Reconcile compares a course's cached listing with its directory and drops
// the cached listing if they disagree, which happens when files are changed
// without going through Upload or Delete. It reports whether the listing was
// dropped. Nothing is cached when there was no listing to begin with.
func (l *Library) Reconcile(ctx context.Context, course models.CourseKey) (bool, error) {
	cached, err := l.cache.Get(course.String())
	if err != nil {
		return false, fmt.Errorf("videolibrary.Library.Reconcile: %w", err)
	}

	records, ok := cached.Get()
	if !ok {
		return false, nil
	}

	current, err := l.Scan(ctx, course)
	if err != nil {
		return false, fmt.Errorf("videolibrary.Library.Reconcile: %w", err)
	}

	if lo.ElementsMatch(listingEntries(records), listingEntries(current)) {
		return false, nil
	}

	if err := l.cache.Invalidate(course.String()); err != nil {
		return false, fmt.Errorf("videolibrary.Library.Reconcile: %w", err)
	}

	return true, nil
}
