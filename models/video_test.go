package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testURLConfig = URLConfig{URLBase: "/media", LMSBase: "lms.example.com"}

func TestNewVideoRecord(t *testing.T) {
	a := assert.New(t)

	when := time.Date(2014, time.March, 4, 17, 30, 0, 0, time.UTC)

	v := NewVideoRecord(testURLConfig, "lecture1.mp4", when, "/org/course/run/lecture1.mp4")

	a.Equal("lecture1.mp4", v.DisplayName)
	a.Equal(when, v.DateAdded)
	a.Equal("Mar 04, 2014 at 17:30 UTC", v.DateAddedDisplay)
	a.Equal("/media/org/course/run/lecture1.mp4", v.URL)
	a.Equal("lms.example.com/media/org/course/run/lecture1.mp4", v.ExternalURL)
	a.Equal("/media/org/course/run/lecture1.mp4", v.PortableURL)
	a.Equal("/c4x/org/course/run/lecture1.mp4", v.ID)
}

func TestNewVideoRecordAddsSlash(t *testing.T) {
	a := assert.New(t)

	v1 := NewVideoRecord(testURLConfig, "a.mp4", time.Unix(0, 0), "org/course/run/a.mp4")
	v2 := NewVideoRecord(testURLConfig, "a.mp4", time.Unix(0, 0), "/org/course/run/a.mp4")

	a.Equal(v1.URL, v2.URL)
	a.Equal(v1.ID, v2.ID)
}

func TestNewVideoRecordDerivedFieldsArePure(t *testing.T) {
	a := assert.New(t)

	v1 := NewVideoRecord(testURLConfig, "x.mp4", time.Unix(100, 0), "/o/c/r/x.mp4")
	v2 := NewVideoRecord(testURLConfig, "x.mp4", time.Unix(999999, 0), "/o/c/r/x.mp4")

	a.Equal(v1.ID, v2.ID)
	a.Equal(v1.URL, v2.URL)
	a.Equal(v1.ExternalURL, v2.ExternalURL)
	a.Equal(v1.PortableURL, v2.PortableURL)
}

func TestNewVideoRecordConvertsToUTC(t *testing.T) {
	a := assert.New(t)

	loc := time.FixedZone("AEST", 10*60*60)

	v := NewVideoRecord(testURLConfig, "x.mp4", time.Date(2020, time.January, 1, 9, 0, 0, 0, loc), "/o/c/r/x.mp4")

	a.Equal("Dec 31, 2019 at 23:00 UTC", v.DateAddedDisplay)
}

func TestSanitizeFileName(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out string
	}{
		{"lecture1.mp4", "lecture1.mp4"},
		{"a/b.mp4", "a_b.mp4"},
		{"/x/y/z", "_x_y_z"},
	} {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.out, SanitizeFileName(tc.in))
		})
	}
}

func TestVideoKeyRoundTrip(t *testing.T) {
	a := assert.New(t)

	key := VideoKeyFromLocation("/org/course/run/lecture1.mp4")
	a.Equal("c4x/org/course/run/lecture1.mp4", key)

	location, err := ParseVideoKey(key)
	a.NoError(err)
	a.Equal("/org/course/run/lecture1.mp4", location)
}

func TestParseVideoKey(t *testing.T) {
	for _, tc := range []struct {
		key      string
		location string
		err      bool
	}{
		{"c4x/org/course/run/a.mp4", "/org/course/run/a.mp4", false},
		{"/c4x/org/course/run/a.mp4", "/org/course/run/a.mp4", false},
		{"c4x/a.mp4", "/a.mp4", false},
		{"c4x", "", true},
		{"c4x/", "", true},
		{"c4x/org/../../etc/passwd", "", true},
		{"c4x/org//a.mp4", "", true},
		{"c4x/org/./a.mp4", "", true},
	} {
		t.Run(tc.key, func(t *testing.T) {
			a := assert.New(t)

			location, err := ParseVideoKey(tc.key)
			if tc.err {
				a.ErrorIs(err, ErrInvalidVideoKey)
			} else {
				a.NoError(err)
				a.Equal(tc.location, location)
			}
		})
	}
}

func TestParseCourseKey(t *testing.T) {
	for _, tc := range []struct {
		in  string
		err bool
	}{
		{"org/course/run", false},
		{"/org/course/run", false},
		{"org/course", true},
		{"org/course/run/extra", true},
		{"org//run", true},
		{"org/../run", true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			a := assert.New(t)

			k, err := ParseCourseKey(tc.in)
			if tc.err {
				a.ErrorIs(err, ErrInvalidCourseKey)
			} else {
				a.NoError(err)
				a.Equal("org/course/run", k.String())
				a.Equal("/org/course/run", k.Path())
			}
		})
	}
}

func TestCourseKeyContains(t *testing.T) {
	a := assert.New(t)

	k, err := ParseCourseKey("org/course/run")
	a.NoError(err)

	a.True(k.Contains("/org/course/run/a.mp4"))
	a.True(k.Contains("/org/course/run/sub/a.mp4"))
	a.False(k.Contains("/org/course/run2/a.mp4"))
	a.False(k.Contains("/org/course/run"))
}
