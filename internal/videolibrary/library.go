// Package videolibrary lists, uploads and deletes the videos that belong to a
// course.
//
// A course's videos live in a directory tree on a videostore.Store; that tree
// is the source of truth. The full listing for each course is kept in a
// listingcache.Cache, filled on the first listing and dropped whenever a video
// is uploaded or deleted through this package.
package videolibrary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/coursevideos/internal/coursestore"
	"fknsrs.biz/p/coursevideos/internal/ctxlogger"
	"fknsrs.biz/p/coursevideos/internal/listingcache"
	"fknsrs.biz/p/coursevideos/internal/videostore"
	"fknsrs.biz/p/coursevideos/models"
)

var (
	ErrCourseNotFound   = fmt.Errorf("course not found")
	ErrVideoNotFound    = fmt.Errorf("video not found")
	ErrVideoNotInCourse = fmt.Errorf("video does not belong to course")
	ErrInvalidFileName  = fmt.Errorf("invalid file name")
)

type Library struct {
	store   *videostore.Store
	cache   listingcache.Cache
	courses coursestore.Store
	urls    models.URLConfig
}

func New(store *videostore.Store, cache listingcache.Cache, courses coursestore.Store, urls models.URLConfig) *Library {
	return &Library{
		store:   store,
		cache:   cache,
		courses: courses,
		urls:    urls,
	}
}

func (l *Library) URLs() models.URLConfig {
	return l.urls
}

func (l *Library) courseDir(course models.CourseKey) string {
	return l.filePath(course.Path())
}

func (l *Library) filePath(location string) string {
	return path.Join("/", l.urls.URLBase, location)
}

// GetCourse checks the course store, translating its not found error into
// ErrCourseNotFound.
func (l *Library) GetCourse(ctx context.Context, course models.CourseKey) (*models.Course, error) {
	c, err := l.courses.GetCourse(ctx, course.String())
	if err != nil {
		if errors.Is(err, coursestore.ErrCourseNotFound) {
			return nil, fmt.Errorf("videolibrary.Library.GetCourse: %s: %w", course, ErrCourseNotFound)
		}

		return nil, fmt.Errorf("videolibrary.Library.GetCourse: %w", err)
	}

	return c, nil
}

// Scan reads the course's directory tree and builds a record for every
// regular file in it, in no particular order. A course with no directory has
// no videos.
func (l *Library) Scan(ctx context.Context, course models.CourseKey) ([]models.VideoRecord, error) {
	files, err := l.store.ListFiles(l.courseDir(course))
	if err != nil {
		return nil, fmt.Errorf("videolibrary.Library.Scan: %w", err)
	}

	records := make([]models.VideoRecord, 0, len(files))
	for _, f := range files {
		records = append(records, models.NewVideoRecord(l.urls, f.Name, f.ModTime, course.Path()+"/"+f.Path))
	}

	return records, nil
}

// Listing returns the full unsorted listing for a course, from the cache if
// possible.
func (l *Library) Listing(ctx context.Context, course models.CourseKey) ([]models.VideoRecord, error) {
	lg := ctxlogger.GetLogger(ctx).WithField("course", course.String())

	cached, err := l.cache.Get(course.String())
	if err != nil {
		lg.WithError(err).Warn("could not read video listing from cache")
	} else if records, ok := cached.Get(); ok {
		return records, nil
	}

	records, err := l.Scan(ctx, course)
	if err != nil {
		return nil, fmt.Errorf("videolibrary.Library.Listing: %w", err)
	}

	if err := l.cache.Set(course.String(), records); err != nil {
		lg.WithError(err).Warn("could not save video listing to cache")
	}

	return records, nil
}

func (l *Library) List(ctx context.Context, course models.CourseKey, req PageRequest) (*Page, error) {
	records, err := l.Listing(ctx, course)
	if err != nil {
		return nil, fmt.Errorf("videolibrary.Library.List: %w", err)
	}

	page, err := Paginate(records, req)
	if err != nil {
		return nil, fmt.Errorf("videolibrary.Library.List: %w", err)
	}

	return page, nil
}

// Upload stores the contents of rd as a video in the course, replacing any
// video with the same name.
func (l *Library) Upload(ctx context.Context, course models.CourseKey, fileName string, rd io.Reader) (*models.VideoRecord, error) {
	if _, err := l.GetCourse(ctx, course); err != nil {
		return nil, fmt.Errorf("videolibrary.Library.Upload: %w", err)
	}

	name := models.SanitizeFileName(fileName)
	switch name {
	case "", ".", "..":
		return nil, fmt.Errorf("videolibrary.Library.Upload: %q: %w", fileName, ErrInvalidFileName)
	}

	location := course.Path() + "/" + name

	info, err := l.store.WriteFile(l.filePath(location), rd)
	if err != nil {
		return nil, fmt.Errorf("videolibrary.Library.Upload: %w", err)
	}

	if err := l.cache.Invalidate(course.String()); err != nil {
		return nil, fmt.Errorf("videolibrary.Library.Upload: could not invalidate listing: %w", err)
	}

	ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"course":   course.String(),
		"location": location,
	}).Info("video uploaded")

	record := models.NewVideoRecord(l.urls, name, info.ModTime, location)

	return &record, nil
}

// Delete removes the video identified by videoKey, which must be inside the
// given course.
func (l *Library) Delete(ctx context.Context, course models.CourseKey, videoKey string) error {
	location, err := models.ParseVideoKey(videoKey)
	if err != nil {
		return fmt.Errorf("videolibrary.Library.Delete: %w", err)
	}

	if !course.Contains(location) {
		return fmt.Errorf("videolibrary.Library.Delete: %q is not in %s: %w", location, course, ErrVideoNotInCourse)
	}

	if err := l.store.DeleteFile(l.filePath(location)); err != nil {
		if errors.Is(err, videostore.ErrNotFound) {
			return fmt.Errorf("videolibrary.Library.Delete: %q: %w", location, ErrVideoNotFound)
		}

		return fmt.Errorf("videolibrary.Library.Delete: %w", err)
	}

	if err := l.cache.Invalidate(course.String()); err != nil {
		return fmt.Errorf("videolibrary.Library.Delete: could not invalidate listing: %w", err)
	}

	ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"course":   course.String(),
		"location": location,
	}).Info("video deleted")

	return nil
}
