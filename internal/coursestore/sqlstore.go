package coursestore

import (
	"context"
	"database/sql"
	"fmt"

	"fknsrs.biz/p/sorm"
	"fknsrs.biz/p/sorm/qsorm"
	sb "fknsrs.biz/p/sqlbuilder"

	"fknsrs.biz/p/coursevideos/internal/ctxclock"
	"fknsrs.biz/p/coursevideos/models"
)

const createCoursesTable = `create table if not exists courses (
  id integer primary key autoincrement,
  created_at datetime not null,
  course_key text not null unique,
  display_name text not null
)`

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createCoursesTable); err != nil {
		return fmt.Errorf("coursestore.SQLStore.Migrate: %w", err)
	}

	return nil
}

func (s *SQLStore) GetCourse(ctx context.Context, courseKey string) (*models.Course, error) {
	var courses []models.Course
	if err := qsorm.FindWhere(
		ctx,
		s.db,
		&courses,
		sb.BinaryOperator("=", models.CourseTable.C("CourseKey"), sb.Bind(courseKey)),
		nil,
		sb.OffsetLimit(nil, sb.Literal("1")),
	); err != nil {
		return nil, fmt.Errorf("coursestore.SQLStore.GetCourse: %w", err)
	}

	if len(courses) == 0 {
		return nil, fmt.Errorf("coursestore.SQLStore.GetCourse: %q: %w", courseKey, ErrCourseNotFound)
	}

	return &courses[0], nil
}

// EnsureCourse creates the course if it doesn't exist yet. An existing course
// has its display name updated when a non-empty one is given.
func (s *SQLStore) EnsureCourse(ctx context.Context, courseKey, displayName string) (*models.Course, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("coursestore.SQLStore.EnsureCourse: could not open transaction: %w", err)
	}
	defer tx.Rollback()

	var course models.Course
	if err := sorm.FindFirstWhere(ctx, tx, &course, "where "+models.CourseTable.ColumnName("CourseKey")+" = ?", courseKey); err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("coursestore.SQLStore.EnsureCourse: could not look up course: %w", err)
		}

		if displayName == "" {
			displayName = courseKey
		}

		course.CreatedAt = ctxclock.NowOrReal(ctx)
		course.CourseKey = courseKey
		course.DisplayName = displayName

		if err := sorm.CreateRecord(ctx, tx, &course); err != nil {
			return nil, fmt.Errorf("coursestore.SQLStore.EnsureCourse: could not create course: %w", err)
		}
	} else if displayName != "" && displayName != course.DisplayName {
		course.DisplayName = displayName

		if err := sorm.SaveRecord(ctx, tx, &course); err != nil {
			return nil, fmt.Errorf("coursestore.SQLStore.EnsureCourse: could not save course: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("coursestore.SQLStore.EnsureCourse: could not commit transaction: %w", err)
	}

	return &course, nil
}

func (s *SQLStore) ListCourses(ctx context.Context) ([]models.Course, error) {
	var courses []models.Course
	if err := qsorm.FindWhere(
		ctx,
		s.db,
		&courses,
		nil,
		[]sb.AsOrderingTerm{sb.OrderAsc(models.CourseTable.C("CourseKey"))},
		sb.OffsetLimit(nil, sb.Literal("10000")),
	); err != nil {
		return nil, fmt.Errorf("coursestore.SQLStore.ListCourses: %w", err)
	}

	return courses, nil
}
