package listingcache

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/samber/mo"
	"go.etcd.io/bbolt"

	"fknsrs.biz/p/coursevideos/models"
)

var bucketName = []byte("listings")

// BBolt keeps listings in a bbolt database, so they survive restarts. It can
// share a database file with other users as long as they use other buckets.
type BBolt struct {
	db *bbolt.DB
}

func NewBBolt(db *bbolt.DB) *BBolt {
	return &BBolt{db: db}
}

func (c *BBolt) Get(courseKey string) (mo.Option[[]models.VideoRecord], error) {
	tx, err := c.db.Begin(false)
	if err != nil {
		return mo.None[[]models.VideoRecord](), fmt.Errorf("listingcache.BBolt.Get: %w", err)
	}
	defer tx.Rollback()

	b := tx.Bucket(bucketName)
	if b == nil {
		return mo.None[[]models.VideoRecord](), nil
	}

	d := b.Get([]byte(Key(courseKey)))
	if d == nil {
		return mo.None[[]models.VideoRecord](), nil
	}

	records := []models.VideoRecord{}
	if err := gob.NewDecoder(bytes.NewReader(d)).Decode(&records); err != nil {
		return mo.None[[]models.VideoRecord](), fmt.Errorf("listingcache.BBolt.Get: could not decode entry: %w", err)
	}

	return mo.Some(records), nil
}

func (c *BBolt) Set(courseKey string, records []models.VideoRecord) error {
	buf := bytes.NewBuffer(nil)
	if err := gob.NewEncoder(buf).Encode(clone(records)); err != nil {
		return fmt.Errorf("listingcache.BBolt.Set: could not encode entry: %w", err)
	}

	if err := c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}

		return b.Put([]byte(Key(courseKey)), buf.Bytes())
	}); err != nil {
		return fmt.Errorf("listingcache.BBolt.Set: %w", err)
	}

	return nil
}

func (c *BBolt) Invalidate(courseKey string) error {
	if err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}

		return b.Delete([]byte(Key(courseKey)))
	}); err != nil {
		return fmt.Errorf("listingcache.BBolt.Invalidate: %w", err)
	}

	return nil
}
