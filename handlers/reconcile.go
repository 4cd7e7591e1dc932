package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"fknsrs.biz/p/coursevideos/internal/ctxcourseaccess"
	"fknsrs.biz/p/coursevideos/internal/ctxdb"
	"fknsrs.biz/p/coursevideos/internal/ctxjobqueue"
	"fknsrs.biz/p/coursevideos/internal/ctxvideolibrary"
	"fknsrs.biz/p/coursevideos/internal/httputil"
	"fknsrs.biz/p/coursevideos/internal/jobqueue"
	"fknsrs.biz/p/coursevideos/internal/queuenames"
	"fknsrs.biz/p/coursevideos/internal/videolibrary"
	"fknsrs.biz/p/coursevideos/models"
)

// Reconcile queues a check of a course's cached listing against its
// directory. A check that is waiting to be retried is brought forward, and
// nothing is queued if one is already due or running.
func Reconcile(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	course, err := models.MakeCourseKey(vars["org"], vars["course"], vars["run"])
	if err != nil {
		httputil.BadRequest(rw, r)
		return
	}

	if !ctxcourseaccess.HasCourseAccess(r, course) {
		httputil.Forbidden(rw, r)
		return
	}

	if _, err := ctxvideolibrary.MustGetLibrary(r.Context()).GetCourse(r.Context(), course); err != nil {
		if errors.Is(err, videolibrary.ErrCourseNotFound) {
			httputil.NotFound(rw, r)
			return
		}

		panic(err)
	}

	var queued bool
	if err := ctxdb.UsingTx(r.Context(), nil, func(ctx context.Context, tx *sql.Tx) error {
		added, err := ctxjobqueue.RunNow(ctx, tx, &jobqueue.Job{
			QueueName: queuenames.CourseVideoReconcile,
			Payload:   course.String(),
		})
		if err != nil {
			return err
		}

		queued = added

		return nil
	}); err != nil {
		panic(err)
	}

	httputil.WriteJSON(rw, http.StatusAccepted, map[string]interface{}{
		"course": course.String(),
		"queued": queued,
	})
}
