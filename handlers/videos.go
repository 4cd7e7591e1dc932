package handlers

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"github.com/gorilla/mux"
	"github.com/monoculum/formam"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/coursevideos/internal/ctxconfig"
	"fknsrs.biz/p/coursevideos/internal/ctxcourseaccess"
	"fknsrs.biz/p/coursevideos/internal/ctxlogger"
	"fknsrs.biz/p/coursevideos/internal/ctxtemplate"
	"fknsrs.biz/p/coursevideos/internal/ctxvideolibrary"
	"fknsrs.biz/p/coursevideos/internal/httputil"
	"fknsrs.biz/p/coursevideos/internal/videolibrary"
	"fknsrs.biz/p/coursevideos/models"
)

const uploadCompleted = "Upload completed"

var queryDecoder = formam.NewDecoder(&formam.DecoderOptions{
	TagName:           "formam",
	IgnoreUnknownKeys: true,
})

// Videos serves /videos/{org}/{course}/{run} and
// /videos/{org}/{course}/{run}/{video_key} for every method.
func Videos(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	course, err := models.MakeCourseKey(vars["org"], vars["course"], vars["run"])
	if err != nil {
		httputil.BadRequest(rw, r)
		return
	}

	ctxlogger.AddFields(r.Context(), logrus.Fields{"course": course.String()})

	if !ctxcourseaccess.HasCourseAccess(r, course) {
		httputil.Forbidden(rw, r)
		return
	}

	if httputil.WantsJSON(r) {
		switch r.Method {
		case http.MethodGet:
			videosJSON(rw, r, course)
		case http.MethodPost, http.MethodPut:
			if isMultipart(r) {
				videosUpload(rw, r, course)
			} else {
				videosUpdate(rw, r, course, vars["video_key"])
			}
		case http.MethodDelete:
			videosDelete(rw, r, course, vars["video_key"])
		default:
			httputil.NotFound(rw, r)
		}

		return
	}

	switch {
	case r.Method == http.MethodGet:
		videosHTML(rw, r, course)
	case r.Method == http.MethodPost && vars["video_key"] == "" && isMultipart(r):
		videosUploadForm(rw, r, course)
	default:
		httputil.NotFound(rw, r)
	}
}

func videosJSON(rw http.ResponseWriter, r *http.Request, course models.CourseKey) {
	input := struct {
		Page      int    `formam:"page"`
		PageSize  int    `formam:"page_size"`
		Sort      string `formam:"sort"`
		Direction string `formam:"direction"`
	}{
		PageSize: videolibrary.DefaultPageSize,
		Sort:     videolibrary.DefaultSort,
	}

	if err := queryDecoder.Decode(r.URL.Query(), &input); err != nil {
		ctxlogger.GetLogger(r.Context()).WithError(err).Warn("could not decode listing parameters")
		httputil.BadRequest(rw, r)
		return
	}

	page, err := ctxvideolibrary.MustGetLibrary(r.Context()).List(r.Context(), course, videolibrary.PageRequest{
		Page:      input.Page,
		PageSize:  input.PageSize,
		Sort:      input.Sort,
		Ascending: input.Direction == "asc",
	})
	if err != nil {
		writeError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, page)
}

func videosHTML(rw http.ResponseWriter, r *http.Request, course models.CourseKey) {
	c, err := ctxvideolibrary.MustGetLibrary(r.Context()).GetCourse(r.Context(), course)
	if err != nil {
		if errors.Is(err, videolibrary.ErrCourseNotFound) {
			httputil.NotFound(rw, r)
			return
		}

		panic(err)
	}

	if err := ctxtemplate.ExecuteTemplateIntoResponse(r, rw, "page_videos", map[string]interface{}{
		"Course":          c,
		"CourseKey":       course,
		"VideoHandlerURL": "/videos" + course.Path() + "?format=json",
		"UploadURL":       "/videos" + course.Path(),
	}); err != nil {
		panic(err)
	}
}

func videosUpload(rw http.ResponseWriter, r *http.Request, course models.CourseKey) {
	record, ok := receiveUpload(rw, r, course)
	if !ok {
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, map[string]interface{}{
		"video": record,
		"msg":   uploadCompleted,
	})
}

// videosUploadForm handles a plain form submission from the videos page and
// sends the browser back to that page.
func videosUploadForm(rw http.ResponseWriter, r *http.Request, course models.CourseKey) {
	if _, ok := receiveUpload(rw, r, course); !ok {
		return
	}

	http.Redirect(rw, r, "/videos"+course.Path(), http.StatusSeeOther)
}

// receiveUpload stores the "file" part of a multipart request. When it
// returns false a response has already been written.
func receiveUpload(rw http.ResponseWriter, r *http.Request, course models.CourseKey) (*models.VideoRecord, bool) {
	if err := r.ParseMultipartForm(ctxconfig.UploadMaxMemory(r.Context())); err != nil {
		ctxlogger.GetLogger(r.Context()).WithError(err).Warn("could not parse upload")
		httputil.BadRequest(rw, r)
		return nil, false
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		httputil.BadRequest(rw, r)
		return nil, false
	}

	fh := files[0]

	fd, err := fh.Open()
	if err != nil {
		panic(err)
	}
	defer fd.Close()

	record, err := ctxvideolibrary.MustGetLibrary(r.Context()).Upload(r.Context(), course, uploadFileName(fh), fd)
	if err != nil {
		writeError(rw, r, err)
		return nil, false
	}

	return record, true
}

// videosUpdate accepts a JSON payload describing changes to a video, such as
// its locked state, and echoes it back. The changes are not applied.
func videosUpdate(rw http.ResponseWriter, r *http.Request, course models.CourseKey, videoKey string) {
	d, err := io.ReadAll(r.Body)
	if err != nil {
		panic(err)
	}

	j, err := gabs.ParseJSON(d)
	if err != nil {
		ctxlogger.GetLogger(r.Context()).WithError(err).Warn("could not parse update payload")
		httputil.BadRequest(rw, r)
		return
	}

	ctxlogger.GetLogger(r.Context()).WithFields(logrus.Fields{
		"course":    course.String(),
		"video_key": videoKey,
	}).Warn("video updates are not stored; echoing payload")

	httputil.WriteRawJSON(rw, http.StatusCreated, j.Bytes())
}

func videosDelete(rw http.ResponseWriter, r *http.Request, course models.CourseKey, videoKey string) {
	if err := ctxvideolibrary.MustGetLibrary(r.Context()).Delete(r.Context(), course, videoKey); err != nil {
		writeError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, struct{}{})
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("content-type"))
	if err != nil {
		return false
	}

	return strings.HasPrefix(mediaType, "multipart/")
}

// uploadFileName returns the file name exactly as the client sent it.
// multipart.FileHeader.Filename has already had any directories stripped.
func uploadFileName(fh *multipart.FileHeader) string {
	if _, params, err := mime.ParseMediaType(fh.Header.Get("content-disposition")); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}

	return fh.Filename
}

func writeError(rw http.ResponseWriter, r *http.Request, err error) {
	l := ctxlogger.GetLogger(r.Context()).WithError(err)

	switch {
	case errors.Is(err, videolibrary.ErrVideoNotFound):
		l.Info("video not found")
		httputil.NotFound(rw, r)
	case errors.Is(err, videolibrary.ErrCourseNotFound),
		errors.Is(err, videolibrary.ErrVideoNotInCourse),
		errors.Is(err, videolibrary.ErrInvalidFileName),
		errors.Is(err, videolibrary.ErrInvalidPageSize),
		errors.Is(err, models.ErrInvalidVideoKey):
		l.Warn("rejected video request")
		httputil.BadRequest(rw, r)
	default:
		panic(err)
	}
}
