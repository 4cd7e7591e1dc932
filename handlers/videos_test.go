package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/Jeffail/gabs/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/negroni/v2"

	"fknsrs.biz/p/coursevideos/internal/config"
	"fknsrs.biz/p/coursevideos/internal/courseaccess"
	"fknsrs.biz/p/coursevideos/internal/coursestore"
	"fknsrs.biz/p/coursevideos/internal/ctxconfig"
	"fknsrs.biz/p/coursevideos/internal/ctxcourseaccess"
	"fknsrs.biz/p/coursevideos/internal/ctxdb"
	"fknsrs.biz/p/coursevideos/internal/ctxjobqueue"
	"fknsrs.biz/p/coursevideos/internal/ctxlogger"
	"fknsrs.biz/p/coursevideos/internal/ctxtemplate"
	"fknsrs.biz/p/coursevideos/internal/ctxvideolibrary"
	"fknsrs.biz/p/coursevideos/internal/jobqueue"
	"fknsrs.biz/p/coursevideos/internal/listingcache"
	"fknsrs.biz/p/coursevideos/internal/queuenames"
	"fknsrs.biz/p/coursevideos/internal/templatecollection"
	"fknsrs.biz/p/coursevideos/internal/videolibrary"
	"fknsrs.biz/p/coursevideos/internal/videostore"
	"fknsrs.biz/p/coursevideos/models"
)

func init() {
	sorm.SetParameterPrefix("?")
}

type testServer struct {
	handler http.Handler
	db      *sql.DB
	fs      afero.Fs
	cache   *listingcache.Memory
}

func newTestServer(t *testing.T, checker courseaccess.Checker) *testServer {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	require.NoError(t, jobqueue.Migrate(ctx, db))

	courses := coursestore.NewSQLStore(db)
	require.NoError(t, courses.Migrate(ctx))
	_, err = courses.EnsureCourse(ctx, "org/course/run", "Test Course")
	require.NoError(t, err)
	_, err = courses.EnsureCourse(ctx, "org/other/run", "Other Course")
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	cache := listingcache.NewMemory()
	lib := videolibrary.New(videostore.New(fs), cache, courses, models.URLConfig{URLBase: "/media", LMSBase: "https://lms.example.com"})

	w := jobqueue.NewWorker(map[string]jobqueue.WorkerFunction{
		queuenames.CourseVideoReconcile: func(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) { return "", nil },
	})

	templates, err := templatecollection.NewLive(os.DirFS("../templates"), templatecollection.Funcs())
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()

	m := mux.NewRouter()
	m.Methods(http.MethodGet).Path("/healthz").HandlerFunc(Healthz)
	m.Path("/videos/{org}/{course}/{run}").HandlerFunc(Videos)
	m.Path("/videos/{org}/{course}/{run}/{video_key:.+}").HandlerFunc(Videos)
	m.Methods(http.MethodPost).Path("/reconcile/{org}/{course}/{run}").HandlerFunc(Reconcile)

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseFunc(ctxlogger.Register(logger))
	n.UseFunc(ctxconfig.Register(config.Config{UploadMaxMemory: 1 << 20}))
	n.UseFunc(ctxtemplate.Register(templates, map[string]interface{}{"AppName": "Course videos"}))
	n.UseFunc(ctxdb.Register(db))
	n.UseFunc(ctxjobqueue.Register(w))
	n.UseFunc(ctxvideolibrary.Register(lib))
	n.UseFunc(ctxcourseaccess.Register(checker))
	n.UseFunc(ctxlogger.Log())
	n.UseHandler(m)

	return &testServer{handler: n, db: db, fs: fs, cache: cache}
}

func (s *testServer) do(t *testing.T, method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[k] = v
	}

	rw := httptest.NewRecorder()
	s.handler.ServeHTTP(rw, req)

	return rw
}

func (s *testServer) upload(t *testing.T, target, fileName, content string) *httptest.ResponseRecorder {
	return s.postFile(t, target, fileName, content, "application/json")
}

func (s *testServer) postFile(t *testing.T, target, fileName, content, accept string) *httptest.ResponseRecorder {
	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("content-disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
	h.Set("content-type", "video/mp4")

	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return s.do(t, http.MethodPost, target, &buf, http.Header{
		"Content-Type": {mw.FormDataContentType()},
		"Accept":       {accept},
	})
}

func (s *testServer) list(t *testing.T, query string) *gabs.Container {
	rw := s.do(t, http.MethodGet, "/videos/org/course/run?format=json"+query, nil, nil)
	require.Equal(t, http.StatusOK, rw.Code, rw.Body.String())

	j, err := gabs.ParseJSON(rw.Body.Bytes())
	require.NoError(t, err)

	return j
}

var jsonHeader = http.Header{"Accept": {"application/json"}}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, courseaccess.AllowAll{})

	rw := s.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "ok", rw.Body.String())
	assert.NotEmpty(t, rw.Header().Get("x-request-id"))
}

func TestHealthzDatabaseDown(t *testing.T) {
	s := newTestServer(t, courseaccess.AllowAll{})
	require.NoError(t, s.db.Close())

	rw := s.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rw.Code)
}

func TestVideosUploadListDelete(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	s := newTestServer(t, courseaccess.AllowAll{})

	rw := s.upload(t, "/videos/org/course/run", "intro.mp4", "video data")
	r.Equal(http.StatusOK, rw.Code, rw.Body.String())

	j, err := gabs.ParseJSON(rw.Body.Bytes())
	r.NoError(err)
	a.Equal("Upload completed", j.Path("msg").Data())
	a.Equal("intro.mp4", j.Path("video.display_name").Data())
	a.Equal("/media/org/course/run/intro.mp4", j.Path("video.url").Data())
	a.Equal("https://lms.example.com/media/org/course/run/intro.mp4", j.Path("video.external_url").Data())
	a.Equal("/c4x/org/course/run/intro.mp4", j.Path("video.id").Data())

	d, err := afero.ReadFile(s.fs, "/media/org/course/run/intro.mp4")
	r.NoError(err)
	a.Equal("video data", string(d))

	listing := s.list(t, "")
	a.EqualValues(1, listing.Path("totalCount").Data())
	r.Len(listing.Path("videos").Children(), 1)
	a.Equal("intro.mp4", listing.Path("videos.0.display_name").Data())

	rw = s.do(t, http.MethodDelete, "/videos/org/course/run/c4x/org/course/run/intro.mp4", nil, jsonHeader)
	r.Equal(http.StatusOK, rw.Code, rw.Body.String())
	a.JSONEq(`{}`, rw.Body.String())

	listing = s.list(t, "")
	a.EqualValues(0, listing.Path("totalCount").Data())

	rw = s.do(t, http.MethodDelete, "/videos/org/course/run/c4x/org/course/run/intro.mp4", nil, jsonHeader)
	a.Equal(http.StatusNotFound, rw.Code)
}

func TestVideosDeleteEscapedKey(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	s := newTestServer(t, courseaccess.AllowAll{})

	rw := s.upload(t, "/videos/org/course/run", "clip #1?.mp4", "x")
	r.Equal(http.StatusOK, rw.Code, rw.Body.String())

	listing := s.list(t, "")
	r.Len(listing.Path("videos").Children(), 1)
	id, ok := listing.Path("videos.0.id").Data().(string)
	r.True(ok)
	a.Equal("/c4x/org/course/run/clip #1?.mp4", id)

	segments := strings.Split(strings.TrimPrefix(id, "/"), "/")
	for i := range segments {
		segments[i] = url.PathEscape(segments[i])
	}

	rw = s.do(t, http.MethodDelete, "/videos/org/course/run/"+strings.Join(segments, "/"), nil, jsonHeader)
	r.Equal(http.StatusOK, rw.Code, rw.Body.String())

	ok, err := afero.Exists(s.fs, "/media/org/course/run/clip #1?.mp4")
	r.NoError(err)
	a.False(ok)
	a.EqualValues(0, s.list(t, "").Path("totalCount").Data())
}

func TestVideosUploadKeepsClientFileName(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	s := newTestServer(t, courseaccess.AllowAll{})

	rw := s.upload(t, "/videos/org/course/run", "a/b.mp4", "x")
	r.Equal(http.StatusOK, rw.Code, rw.Body.String())

	j, err := gabs.ParseJSON(rw.Body.Bytes())
	r.NoError(err)
	a.Equal("a_b.mp4", j.Path("video.display_name").Data())

	ok, err := afero.Exists(s.fs, "/media/org/course/run/a_b.mp4")
	r.NoError(err)
	a.True(ok)
}

func TestVideosUploadInvalidatesCache(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t, courseaccess.AllowAll{})

	a.EqualValues(0, s.list(t, "").Path("totalCount").Data())

	cached, err := s.cache.Get("org/course/run")
	a.NoError(err)
	a.True(cached.IsPresent())

	s.upload(t, "/videos/org/course/run", "a.mp4", "x")

	cached, err = s.cache.Get("org/course/run")
	a.NoError(err)
	a.True(cached.IsAbsent())

	a.EqualValues(1, s.list(t, "").Path("totalCount").Data())
}

func TestVideosUploadRejected(t *testing.T) {
	s := newTestServer(t, courseaccess.AllowAll{})

	assert.Equal(t, http.StatusBadRequest, s.upload(t, "/videos/org/missing/run", "a.mp4", "x").Code)
	assert.Equal(t, http.StatusBadRequest, s.upload(t, "/videos/org/course/run", "..", "x").Code)

	rw := s.do(t, http.MethodPost, "/videos/org/course/run", strings.NewReader("--nope--"), http.Header{
		"Content-Type": {"multipart/form-data; boundary=xyz"},
		"Accept":       {"application/json"},
	})
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestVideosListPaging(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	s := newTestServer(t, courseaccess.AllowAll{})

	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		r.NoError(afero.WriteFile(s.fs, "/media/org/course/run/"+name, []byte(name), 0644))
	}

	j := s.list(t, "&page=1&page_size=2&sort=display_name&direction=asc")
	a.EqualValues(1, j.Path("page").Data())
	a.EqualValues(2, j.Path("start").Data())
	a.EqualValues(3, j.Path("end").Data())
	a.EqualValues(2, j.Path("pageSize").Data())
	a.EqualValues(3, j.Path("totalCount").Data())
	a.Equal("display_name", j.Path("sort").Data())
	a.Equal("c.mp4", j.Path("videos.0.display_name").Data())

	j = s.list(t, "&page=9&page_size=2&sort=display_name&direction=desc")
	a.EqualValues(1, j.Path("page").Data(), "pages past the end fall back to the last page")
	a.Equal("a.mp4", j.Path("videos.0.display_name").Data())

	j = s.list(t, "")
	a.EqualValues(50, j.Path("pageSize").Data())
	a.Equal("date_added", j.Path("sort").Data())
}

func TestVideosListEmpty(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t, courseaccess.AllowAll{})

	j := s.list(t, "")
	a.EqualValues(0, j.Path("page").Data())
	a.EqualValues(0, j.Path("start").Data())
	a.EqualValues(0, j.Path("end").Data())
	a.EqualValues(0, j.Path("totalCount").Data())
	a.Equal([]interface{}{}, j.Path("videos").Data())
}

func TestVideosListBadParameters(t *testing.T) {
	s := newTestServer(t, courseaccess.AllowAll{})

	for _, query := range []string{"&page=abc", "&page_size=abc", "&page_size=0", "&page_size=-1"} {
		t.Run(query, func(t *testing.T) {
			rw := s.do(t, http.MethodGet, "/videos/org/course/run?format=json"+query, nil, nil)
			assert.Equal(t, http.StatusBadRequest, rw.Code)
		})
	}
}

func TestVideosListUnknownCourse(t *testing.T) {
	s := newTestServer(t, courseaccess.AllowAll{})

	rw := s.do(t, http.MethodGet, "/videos/org/missing/run?format=json", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestVideosDeleteRejected(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	s := newTestServer(t, courseaccess.AllowAll{})

	r.NoError(afero.WriteFile(s.fs, "/media/org/other/run/a.mp4", []byte("a"), 0644))

	rw := s.do(t, http.MethodDelete, "/videos/org/course/run/c4x/org/other/run/a.mp4", nil, jsonHeader)
	a.Equal(http.StatusBadRequest, rw.Code)

	ok, err := afero.Exists(s.fs, "/media/org/other/run/a.mp4")
	r.NoError(err)
	a.True(ok)

	rw = s.do(t, http.MethodDelete, "/videos/org/course/run/c4x/org/course/run/../../other/run/a.mp4", nil, jsonHeader)
	a.NotEqual(http.StatusOK, rw.Code)
}

func TestVideosUpdateEchoesPayload(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t, courseaccess.AllowAll{})

	header := http.Header{"Content-Type": {"application/json"}, "Accept": {"application/json"}}

	rw := s.do(t, http.MethodPut, "/videos/org/course/run/c4x/org/course/run/a.mp4", strings.NewReader(`{"locked":true}`), header)
	a.Equal(http.StatusCreated, rw.Code)
	a.JSONEq(`{"locked":true}`, rw.Body.String())

	rw = s.do(t, http.MethodPost, "/videos/org/course/run", strings.NewReader(`{"locked":`), header)
	a.Equal(http.StatusBadRequest, rw.Code)
}

func TestVideosUnsupportedMethod(t *testing.T) {
	s := newTestServer(t, courseaccess.AllowAll{})

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPatch, "/videos/org/course/run", nil, jsonHeader).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/videos/org/course/run", nil, http.Header{"Accept": {"text/html"}}).Code)
}

func TestVideosHTML(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	s := newTestServer(t, courseaccess.AllowAll{})

	rw := s.do(t, http.MethodGet, "/videos/org/course/run", nil, http.Header{"Accept": {"text/html"}})
	r.Equal(http.StatusOK, rw.Code, rw.Body.String())
	a.Equal("text/html; charset=utf-8", rw.Header().Get("content-type"))

	doc, err := goquery.NewDocumentFromReader(rw.Body)
	r.NoError(err)

	a.Equal("Test Course", strings.TrimSpace(doc.Find("h1.course-name").Text()))
	a.Equal("org/course/run", strings.TrimSpace(doc.Find("p.course-key").Text()))
	a.Equal("Course videos", strings.TrimSpace(doc.Find("header.app-name").Text()))

	requestID, ok := doc.Find(`meta[name="request-id"]`).Attr("content")
	a.True(ok)
	a.Equal(rw.Header().Get("x-request-id"), requestID)

	handlerURL, ok := doc.Find("#videos").Attr("data-video-handler-url")
	a.True(ok)
	a.Equal("/videos/org/course/run?format=json", handlerURL)

	rw = s.do(t, http.MethodGet, "/videos/org/missing/run", nil, http.Header{"Accept": {"text/html"}})
	a.Equal(http.StatusNotFound, rw.Code)
}

func TestVideosHTMLUploadForm(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	s := newTestServer(t, courseaccess.AllowAll{})

	browserAccept := "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

	rw := s.do(t, http.MethodGet, "/videos/org/course/run", nil, http.Header{"Accept": {browserAccept}})
	r.Equal(http.StatusOK, rw.Code, rw.Body.String())

	doc, err := goquery.NewDocumentFromReader(rw.Body)
	r.NoError(err)

	form := doc.Find("form#upload-form")
	method, _ := form.Attr("method")
	a.Equal("post", method)
	action, ok := form.Attr("action")
	r.True(ok)
	a.Contains(doc.Find("script").Text(), "encodeURIComponent")

	rw = s.postFile(t, action, "lecture.mp4", "video data", browserAccept)
	r.Equal(http.StatusSeeOther, rw.Code, rw.Body.String())
	a.Equal("/videos/org/course/run", rw.Header().Get("location"))

	d, err := afero.ReadFile(s.fs, "/media/org/course/run/lecture.mp4")
	r.NoError(err)
	a.Equal("video data", string(d))

	rw = s.postFile(t, action, "..", "x", browserAccept)
	a.Equal(http.StatusBadRequest, rw.Code)

	rw = s.postFile(t, action+"/c4x/org/course/run/lecture.mp4", "other.mp4", "x", browserAccept)
	a.Equal(http.StatusNotFound, rw.Code)
}

func TestVideosBadCourseKey(t *testing.T) {
	s := newTestServer(t, courseaccess.AllowAll{})

	rw := s.do(t, http.MethodGet, "/videos/org/../run?format=json", nil, nil)
	assert.NotEqual(t, http.StatusOK, rw.Code)
}

func TestVideosAccess(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t, courseaccess.NewBearerToken("secret"))

	rw := s.do(t, http.MethodGet, "/videos/org/course/run?format=json", nil, nil)
	a.Equal(http.StatusForbidden, rw.Code)

	rw = s.upload(t, "/videos/org/course/run", "a.mp4", "x")
	a.Equal(http.StatusForbidden, rw.Code)

	ok, err := afero.Exists(s.fs, "/media/org/course/run/a.mp4")
	a.NoError(err)
	a.False(ok)

	rw = s.do(t, http.MethodGet, "/videos/org/course/run?format=json", nil, http.Header{"Authorization": {"Bearer secret"}})
	a.Equal(http.StatusOK, rw.Code)

	rw = s.do(t, http.MethodPost, "/reconcile/org/course/run", nil, nil)
	a.Equal(http.StatusForbidden, rw.Code)
}

func TestReconcile(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	s := newTestServer(t, courseaccess.AllowAll{})

	rw := s.do(t, http.MethodPost, "/reconcile/org/course/run", nil, nil)
	r.Equal(http.StatusAccepted, rw.Code, rw.Body.String())
	a.JSONEq(`{"course":"org/course/run","queued":true}`, rw.Body.String())

	rw = s.do(t, http.MethodPost, "/reconcile/org/course/run", nil, nil)
	r.Equal(http.StatusAccepted, rw.Code)
	a.JSONEq(`{"course":"org/course/run","queued":false}`, rw.Body.String())

	_, err := s.db.Exec("update jobs set run_after = ?", time.Now().Add(time.Hour))
	r.NoError(err)

	rw = s.do(t, http.MethodPost, "/reconcile/org/course/run", nil, nil)
	r.Equal(http.StatusAccepted, rw.Code)
	a.JSONEq(`{"course":"org/course/run","queued":true}`, rw.Body.String(), "a delayed check is brought forward")

	var jobs []jobqueue.Job
	r.NoError(sorm.FindWhere(context.Background(), s.db, &jobs, "order by id asc"))
	r.Len(jobs, 1)
	a.False(jobs[0].RunAfter.After(time.Now()))

	rw = s.do(t, http.MethodPost, "/reconcile/org/missing/run", nil, nil)
	a.Equal(http.StatusNotFound, rw.Code)
}
