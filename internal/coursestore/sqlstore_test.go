package coursestore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"fknsrs.biz/p/sorm"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	sorm.SetParameterPrefix("?")
}

func openSQLStore(t *testing.T) *SQLStore {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "courses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewSQLStore(db)
	require.NoError(t, s.Migrate(context.Background()))

	return s
}

func TestSQLStoreMigrateTwice(t *testing.T) {
	s := openSQLStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestSQLStoreGetCourseMissing(t *testing.T) {
	s := openSQLStore(t)

	_, err := s.GetCourse(context.Background(), "org/course/run")
	assert.ErrorIs(t, err, ErrCourseNotFound)
}

func TestSQLStoreEnsureCourse(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	ctx := context.Background()
	s := openSQLStore(t)

	c1, err := s.EnsureCourse(ctx, "org/course/run", "")
	r.NoError(err)
	a.NotZero(c1.ID)
	a.Equal("org/course/run", c1.DisplayName)

	c2, err := s.EnsureCourse(ctx, "org/course/run", "Intro to Things")
	r.NoError(err)
	a.Equal(c1.ID, c2.ID)
	a.Equal("Intro to Things", c2.DisplayName)

	c3, err := s.EnsureCourse(ctx, "org/course/run", "")
	r.NoError(err)
	a.Equal("Intro to Things", c3.DisplayName, "an empty name leaves the existing one alone")

	got, err := s.GetCourse(ctx, "org/course/run")
	r.NoError(err)
	a.Equal(c1.ID, got.ID)
	a.Equal("Intro to Things", got.DisplayName)
}

func TestSQLStoreListCourses(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	ctx := context.Background()
	s := openSQLStore(t)

	for _, k := range []string{"b/b/b", "a/a/a", "c/c/c"} {
		_, err := s.EnsureCourse(ctx, k, "")
		r.NoError(err)
	}

	courses, err := s.ListCourses(ctx)
	r.NoError(err)
	r.Len(courses, 3)
	a.Equal("a/a/a", courses[0].CourseKey)
	a.Equal("b/b/b", courses[1].CourseKey)
	a.Equal("c/c/c", courses[2].CourseKey)
}
