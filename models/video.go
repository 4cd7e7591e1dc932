package models

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	// DateAddedFormat is how dates are shown to course authors; the raw time
	// is kept alongside for sorting.
	DateAddedFormat = "Jan 02, 2006 at 15:04 UTC"

	videoIDPrefix = "/c4x"
)

var (
	ErrInvalidVideoKey  = fmt.Errorf("invalid video key")
	ErrInvalidCourseKey = fmt.Errorf("invalid course key")
)

type URLConfig struct {
	URLBase string
	LMSBase string
}

type VideoRecord struct {
	DisplayName      string    `json:"display_name"`
	DateAdded        time.Time `json:"-"`
	DateAddedDisplay string    `json:"date_added"`
	URL              string    `json:"url"`
	ExternalURL      string    `json:"external_url"`
	PortableURL      string    `json:"portable_url"`
	ID               string    `json:"id"`
	Location         string    `json:"-"`
}

func NewVideoRecord(cfg URLConfig, displayName string, dateAdded time.Time, location string) VideoRecord {
	videoURL := cfg.URLBase + AddSlash(location)

	return VideoRecord{
		DisplayName:      displayName,
		DateAdded:        dateAdded.UTC(),
		DateAddedDisplay: dateAdded.UTC().Format(DateAddedFormat),
		URL:              videoURL,
		ExternalURL:      cfg.LMSBase + videoURL,
		PortableURL:      videoURL,
		ID:               VideoID(location),
		Location:         location,
	}
}

func AddSlash(s string) string {
	if !strings.HasPrefix(s, "/") {
		return "/" + s
	}

	return s
}

func SanitizeFileName(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}

// legacy id codec

func VideoID(location string) string {
	return videoIDPrefix + AddSlash(location)
}

// VideoKeyFromLocation returns the form of the id used in URLs, which has no
// leading slash.
func VideoKeyFromLocation(location string) string {
	return strings.TrimPrefix(VideoID(location), "/")
}

// ParseVideoKey strips the four character prefix from a video key and returns
// the storage location it refers to.
func ParseVideoKey(key string) (string, error) {
	if len(key) <= len(videoIDPrefix) {
		return "", fmt.Errorf("models.ParseVideoKey: key %q is too short: %w", key, ErrInvalidVideoKey)
	}

	location := AddSlash(key[len(videoIDPrefix):])

	for _, segment := range strings.Split(location[1:], "/") {
		switch segment {
		case "", ".", "..":
			return "", fmt.Errorf("models.ParseVideoKey: key %q has an invalid path segment: %w", key, ErrInvalidVideoKey)
		}
	}

	if path.Clean(location) != location {
		return "", fmt.Errorf("models.ParseVideoKey: key %q is not a clean path: %w", key, ErrInvalidVideoKey)
	}

	return location, nil
}

// course keys

type CourseKey struct {
	Org    string
	Course string
	Run    string
}

func ParseCourseKey(s string) (CourseKey, error) {
	a := strings.Split(strings.Trim(s, "/"), "/")
	if len(a) != 3 {
		return CourseKey{}, fmt.Errorf("models.ParseCourseKey: expected org/course/run; got %q: %w", s, ErrInvalidCourseKey)
	}

	return MakeCourseKey(a[0], a[1], a[2])
}

func MakeCourseKey(org, course, run string) (CourseKey, error) {
	for _, e := range []string{org, course, run} {
		if e == "" || e == "." || e == ".." || strings.ContainsAny(e, "/\\") {
			return CourseKey{}, fmt.Errorf("models.MakeCourseKey: invalid segment %q: %w", e, ErrInvalidCourseKey)
		}
	}

	return CourseKey{Org: org, Course: course, Run: run}, nil
}

func (k CourseKey) String() string {
	return k.Org + "/" + k.Course + "/" + k.Run
}

func (k CourseKey) Path() string {
	return AddSlash(k.String())
}

// Contains reports whether a storage location is inside this course.
func (k CourseKey) Contains(location string) bool {
	return strings.HasPrefix(location, k.Path()+"/")
}

func (k CourseKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *CourseKey) UnmarshalText(d []byte) error {
	v, err := ParseCourseKey(string(d))
	if err != nil {
		return err
	}

	*k = v

	return nil
}
