package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fknsrs.biz/p/coursevideos/models"
)

func TestLevelList(t *testing.T) {
	a := assert.New(t)

	var l LevelList
	require.NoError(t, l.UnmarshalText([]byte("debug, trace")))
	a.Equal(LevelList{logrus.DebugLevel, logrus.TraceLevel}, l)

	d, err := l.MarshalText()
	require.NoError(t, err)
	a.Equal("debug,trace", string(d))

	require.NoError(t, l.UnmarshalText([]byte("-")))
	a.Empty(l)

	a.Error(l.UnmarshalText([]byte("loud")))
}

func TestLogQueries(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out LogQueries
		err bool
	}{
		{"all", LogQueries{Enabled: true}, false},
		{"none", LogQueries{}, false},
		{"", LogQueries{}, false},
		{">100ms", LogQueries{Enabled: true, SlowerThan: time.Millisecond * 100}, false},
		{">soon", LogQueries{}, true},
		{"some", LogQueries{}, true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			var l LogQueries
			err := l.UnmarshalText([]byte(tc.in))
			if tc.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.out, l)
			}
		})
	}
}

func TestCacheBackend(t *testing.T) {
	a := assert.New(t)

	var c CacheBackend
	a.NoError(c.UnmarshalText([]byte("BBolt")))
	a.Equal(CacheBackendBBolt, c)
	a.NoError(c.UnmarshalText([]byte("")))
	a.Equal(CacheBackendMemory, c)
	a.Error(c.UnmarshalText([]byte("redis")))
}

func TestCourseList(t *testing.T) {
	a := assert.New(t)

	var l CourseList
	require.NoError(t, l.UnmarshalText([]byte("org/a/run, org/b/run,")))
	a.Equal(CourseList{
		{Org: "org", Course: "a", Run: "run"},
		{Org: "org", Course: "b", Run: "run"},
	}, l)

	d, err := l.MarshalText()
	require.NoError(t, err)
	a.Equal("org/a/run,org/b/run", string(d))

	a.ErrorIs(l.UnmarshalText([]byte("org/a")), models.ErrInvalidCourseKey)
}

func TestVideoDir(t *testing.T) {
	assert.Equal(t, "data/media", Config{ApplicationDataPath: "data", VideoURLBase: "/media"}.VideoDir())
}
