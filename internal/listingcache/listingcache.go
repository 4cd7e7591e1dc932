// Package listingcache holds the full, unsorted video listing for each course
// so that paging through a listing doesn't walk the filesystem every time.
//
// Entries have no expiry. Whoever changes a course's files is responsible for
// calling Invalidate.
package listingcache

import (
	"sync"

	"github.com/samber/mo"

	"fknsrs.biz/p/coursevideos/models"
)

type Cache interface {
	Get(courseKey string) (mo.Option[[]models.VideoRecord], error)
	Set(courseKey string, records []models.VideoRecord) error
	Invalidate(courseKey string) error
}

func Key(courseKey string) string {
	return "videos:" + courseKey
}

type Memory struct {
	l sync.RWMutex
	m map[string][]models.VideoRecord
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string][]models.VideoRecord)}
}

func (c *Memory) Get(courseKey string) (mo.Option[[]models.VideoRecord], error) {
	c.l.RLock()
	defer c.l.RUnlock()

	records, ok := c.m[Key(courseKey)]
	if !ok {
		return mo.None[[]models.VideoRecord](), nil
	}

	return mo.Some(clone(records)), nil
}

func (c *Memory) Set(courseKey string, records []models.VideoRecord) error {
	c.l.Lock()
	defer c.l.Unlock()

	c.m[Key(courseKey)] = clone(records)

	return nil
}

func (c *Memory) Invalidate(courseKey string) error {
	c.l.Lock()
	defer c.l.Unlock()

	delete(c.m, Key(courseKey))

	return nil
}

func clone(records []models.VideoRecord) []models.VideoRecord {
	if records == nil {
		return []models.VideoRecord{}
	}

	return append([]models.VideoRecord(nil), records...)
}
