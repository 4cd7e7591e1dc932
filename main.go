package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/gorilla/mux"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/tdewolff/minify"
	"github.com/tdewolff/minify/css"
	"github.com/tdewolff/minify/html"
	"github.com/tdewolff/minify/js"
	"github.com/urfave/negroni/v2"
	"go.etcd.io/bbolt"

	"fknsrs.biz/p/coursevideos/handlers"
	"fknsrs.biz/p/coursevideos/internal/config"
	"fknsrs.biz/p/coursevideos/internal/configreader"
	"fknsrs.biz/p/coursevideos/internal/courseaccess"
	"fknsrs.biz/p/coursevideos/internal/coursestore"
	"fknsrs.biz/p/coursevideos/internal/ctxclock"
	"fknsrs.biz/p/coursevideos/internal/ctxconfig"
	"fknsrs.biz/p/coursevideos/internal/ctxcourseaccess"
	"fknsrs.biz/p/coursevideos/internal/ctxdb"
	"fknsrs.biz/p/coursevideos/internal/ctxhttpclient"
	"fknsrs.biz/p/coursevideos/internal/ctxjobqueue"
	"fknsrs.biz/p/coursevideos/internal/ctxlogger"
	"fknsrs.biz/p/coursevideos/internal/ctxtemplate"
	"fknsrs.biz/p/coursevideos/internal/ctxvideolibrary"
	"fknsrs.biz/p/coursevideos/internal/httpcache"
	"fknsrs.biz/p/coursevideos/internal/jobqueue"
	"fknsrs.biz/p/coursevideos/internal/listingcache"
	"fknsrs.biz/p/coursevideos/internal/logrusstackhook"
	"fknsrs.biz/p/coursevideos/internal/queuenames"
	"fknsrs.biz/p/coursevideos/internal/reconciler"
	"fknsrs.biz/p/coursevideos/internal/sqlitelogger"
	"fknsrs.biz/p/coursevideos/internal/templatecollection"
	"fknsrs.biz/p/coursevideos/internal/videolibrary"
	"fknsrs.biz/p/coursevideos/internal/videostore"
	"fknsrs.biz/p/coursevideos/models"
)

const (
	appName   = "Course videos"
	userAgent = "coursevideos/1.0"
)

func init() {
	sorm.SetParameterPrefix("?")
}

var cfg = config.Config{
	LogLevel:             logrus.InfoLevel,
	LogDebugLevels:       config.LevelList{logrus.DebugLevel, logrus.TraceLevel},
	LogQueries:           config.LogQueries{Enabled: true, SlowerThan: time.Millisecond * 100},
	LogSORM:              false,
	ApplicationAddr:      ":8080",
	ApplicationDatabase:  "database.db",
	ApplicationCachePath: "cache.db",
	ApplicationDataPath:  "data",
	ApplicationMinify:    true,
	BackgroundWorkers:    1,
	VideoURLBase:         "/media",
	ListingCache:         config.CacheBackendMemory,
	CourseStoreCacheAge:  time.Minute * 5,
	ReconcileInterval:    time.Hour,
	UploadMaxMemory:      ctxconfig.DefaultUploadMaxMemory,
}

//go:embed templates
var templateFS embed.FS

func init() {
	for _, configPath := range []string{"config.toml", "config.yaml", "config.yml"} {
		if st, err := os.Stat(configPath); err == nil && st != nil && !st.IsDir() {
			cfg.Config = configPath
		}
	}
}

type simpleQueryLogger struct {
	logger *logrus.Logger
}

func (s *simpleQueryLogger) LogQuery(query string, args []interface{}) {
	fields := logrus.Fields{
		"db.query":      query,
		"db.args.count": len(args),
	}

	for i, e := range args {
		fields[fmt.Sprintf("db.args.%d", i)] = e
	}

	s.logger.WithFields(fields).Debug("sorm query start")
}

func (s *simpleQueryLogger) LogQueryAfter(query string, args []interface{}, duration time.Duration, err error) {
	fields := logrus.Fields{
		"db.query":      query,
		"db.duration":   duration,
		"db.error":      err,
		"db.args.count": len(args),
	}

	for i, e := range args {
		fields[fmt.Sprintf("db.args.%d", i)] = e
	}

	s.logger.WithFields(fields).Info("sorm query finish")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := configreader.Read(os.Args[0], os.Args[1:], os.Environ(), &cfg); err != nil {
		panic(err)
	}

	ctx = ctxconfig.WithConfig(ctx, cfg)
	ctx = ctxclock.WithClock(ctx, ctxclock.NewRealClock())

	logger := logrus.New()

	logger.SetLevel(cfg.LogLevel)
	if len(cfg.LogDebugLevels) > 0 {
		logger.AddHook(logrusstackhook.NewStackHook(cfg.LogDebugLevels, nil))
	}

	logger.WithFields(logrus.Fields{
		"config.config":                 cfg.Config,
		"config.log_level":              cfg.LogLevel,
		"config.log_debug_levels":       cfg.LogDebugLevels,
		"config.log_queries":            cfg.LogQueries,
		"config.log_sorm":               cfg.LogSORM,
		"config.application_addr":       cfg.ApplicationAddr,
		"config.application_cache_path": cfg.ApplicationCachePath,
		"config.application_database":   cfg.ApplicationDatabase,
		"config.application_data_path":  cfg.ApplicationDataPath,
		"config.application_minify":     cfg.ApplicationMinify,
		"config.background_workers":     cfg.BackgroundWorkers,
		"config.video_url_base":         cfg.VideoURLBase,
		"config.lms_base":               cfg.LMSBase,
		"config.listing_cache":          cfg.ListingCache,
		"config.course_store_url":       cfg.CourseStoreURL,
		"config.seed_courses":           cfg.SeedCourses,
		"config.reconcile_interval":     cfg.ReconcileInterval,
		"config.access_token_set":       cfg.AccessToken != "",
	}).Info("program starting")

	if cfg.LogSORM {
		sorm.SetQueryLogger(&simpleQueryLogger{logger})
	}

	ctx = ctxlogger.WithLogger(ctx, logger)

	dbDriver := "sqlite3"

	if !cfg.LogQueries.IsZero() {
		dbDriver = "sqlite3:logged"

		sql.Register(dbDriver, sqlitelogger.New(
			dbDriver,
			&sqlite3.SQLiteDriver{},
			&sqlitelogger.BasicFilter{
				LogSlowerThan: cfg.LogQueries.SlowerThan,
				IgnorePackageStackFrames: []string{
					// standard library
					"database/sql",
					"net/http",
					"runtime",
					// libraries
					"fknsrs.biz/p/sorm",
					"github.com/gorilla/mux",
					"github.com/shogo82148/go-sql-proxy",
					"github.com/urfave/negroni/v2",
					// middleware
					"fknsrs.biz/p/coursevideos/internal/ctxclock",
					"fknsrs.biz/p/coursevideos/internal/ctxconfig",
					"fknsrs.biz/p/coursevideos/internal/ctxcourseaccess",
					"fknsrs.biz/p/coursevideos/internal/ctxdb",
					"fknsrs.biz/p/coursevideos/internal/ctxjobqueue",
					"fknsrs.biz/p/coursevideos/internal/ctxlogger",
					"fknsrs.biz/p/coursevideos/internal/ctxtemplate",
					"fknsrs.biz/p/coursevideos/internal/ctxvideolibrary",
					"fknsrs.biz/p/coursevideos/internal/sqlitelogger",
					// main
					"main",
				},
				IgnoreFunctionQueries: []string{
					"fknsrs.biz/p/coursevideos/internal/jobqueue.(*Worker).Run",
				},
			},
		))
	}

	db, err := sql.Open(dbDriver, cfg.ApplicationDatabase)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	ctx = ctxdb.WithDB(ctx, db)

	if err := jobqueue.Migrate(ctx, db); err != nil {
		panic(err)
	}

	localCourses := coursestore.NewSQLStore(db)
	if err := localCourses.Migrate(ctx); err != nil {
		panic(err)
	}

	for _, course := range cfg.SeedCourses {
		if _, err := localCourses.EnsureCourse(ctx, course.String(), ""); err != nil {
			panic(err)
		}
	}

	cacheDB, err := bbolt.Open(cfg.ApplicationCachePath, 0600, nil)
	if err != nil {
		panic(err)
	}
	defer cacheDB.Close()

	ctx = ctxhttpclient.WithUserAgent(ctx, userAgent)
	ctx = ctxhttpclient.WithHTTPClient(ctx, &http.Client{
		Timeout:   time.Second * 30,
		Transport: httpcache.NewTransport(nil, httpcache.NewBBoltStorage(cacheDB), cfg.CourseStoreCacheAge),
	})

	var courses coursestore.Store = localCourses
	if cfg.CourseStoreURL != "" {
		courses = coursestore.NewHTTPStore(cfg.CourseStoreURL)
	}

	var listings listingcache.Cache = listingcache.NewMemory()
	if cfg.ListingCache == config.CacheBackendBBolt {
		listings = listingcache.NewBBolt(cacheDB)
	}

	if err := os.MkdirAll(cfg.VideoDir(), 0755); err != nil {
		panic(err)
	}

	videoFs := afero.NewBasePathFs(afero.NewOsFs(), cfg.ApplicationDataPath)

	lib := videolibrary.New(
		videostore.New(videoFs),
		listings,
		courses,
		models.URLConfig{URLBase: cfg.VideoURLBase, LMSBase: cfg.LMSBase},
	)

	ctx = ctxvideolibrary.WithLibrary(ctx, lib)

	w := jobqueue.NewWorker(nil)

	if err := w.RegisterAll(map[string]jobqueue.WorkerFunction{
		queuenames.CourseVideoReconcile: reconciler.WorkerFunction(lib, cfg.ReconcileInterval),
	}); err != nil {
		panic(err)
	}

	ctx = ctxjobqueue.WithWorker(ctx, w)

	if cfg.ReconcileInterval > 0 {
		list, err := localCourses.ListCourses(ctx)
		if err != nil {
			panic(err)
		}

		if err := reconciler.Seed(ctx, w, list); err != nil {
			panic(err)
		}
	}

	workers := []worker{
		{
			name: "application",
			run: func(ctx context.Context) error {
				return runApplicationWorker(ctx, cfg.ApplicationAddr, videoFs)
			},
		},
	}

	for i := 0; i < cfg.BackgroundWorkers; i++ {
		workers = append(workers, worker{
			name: fmt.Sprintf("job_queue.%d", i),
			run: func(ctx context.Context) error {
				return runJobQueueWorker(ctx)
			},
		})
	}

	if err := runAllWorkers(ctx, workers); err != nil {
		logger.WithError(err).Error("program stopped")
		os.Exit(1)
	}

	logger.Info("program stopped")
}

type worker struct {
	name string
	run  func(ctx context.Context) error
}

// runAllWorkers restarts each worker whenever it returns until ctx is done.
// A worker that fails takes the others down with it.
func runAllWorkers(ctx context.Context, workers []worker) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	var m sync.Mutex
	var errs []error

	for id, w := range workers {
		wg.Add(1)

		go func(id int, w worker) {
			defer wg.Done()

			l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
				"worker.id":   id + 1,
				"worker.name": w.name,
			})

			wctx := ctxlogger.WithLogger(ctx, l)

			for {
				err := w.run(wctx)

				if ctx.Err() != nil {
					return
				}

				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					l.WithError(err).Error("worker failed")

					m.Lock()
					errs = append(errs, fmt.Errorf("worker %d (%s) failed: %w", id+1, w.name, err))
					m.Unlock()

					cancel(err)

					return
				}

				l.Info("worker restarted")

				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
		}(id, w)
	}

	wg.Wait()

	return errors.Join(errs...)
}

func directoryExists(name string) bool {
	st, err := os.Stat(name)
	if err != nil {
		return false
	}
	return st.IsDir()
}

func runApplicationWorker(ctx context.Context, addr string, videoFs afero.Fs) error {
	l := ctxlogger.GetLogger(ctx)

	l.WithFields(logrus.Fields{
		"args.addr": addr,
	}).Info("running application worker")

	var templates templatecollection.Collection

	if directoryExists("templates") {
		l.Info("using live filesystem for templates")
		c, err := templatecollection.NewLive(os.DirFS("templates"), templatecollection.Funcs())
		if err != nil {
			return fmt.Errorf("runApplicationWorker: %w", err)
		}
		templates = c
	} else {
		l.Info("using embedded filesystem for templates")
		c, err := templatecollection.NewCached(templateFS, templatecollection.Funcs())
		if err != nil {
			return fmt.Errorf("runApplicationWorker: %w", err)
		}
		templates = c
	}

	c := ctxconfig.GetConfig(ctx)

	m := mux.NewRouter()

	m.Methods(http.MethodGet).Path("/healthz").HandlerFunc(handlers.Healthz)
	m.Path("/videos/{org}/{course}/{run}").HandlerFunc(handlers.Videos)
	m.Path("/videos/{org}/{course}/{run}/{video_key:.+}").HandlerFunc(handlers.Videos)
	m.Methods(http.MethodPost).Path("/reconcile/{org}/{course}/{run}").HandlerFunc(handlers.Reconcile)
	m.Methods(http.MethodGet, http.MethodHead).PathPrefix(strings.TrimSuffix(c.VideoURLBase, "/") + "/").Handler(http.FileServer(afero.NewHttpFs(videoFs).Dir("/")))

	min := minify.New()
	min.Add("text/html", html.DefaultMinifier)
	min.Add("text/css", css.DefaultMinifier)
	min.Add("application/javascript", js.DefaultMinifier)

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseFunc(ctxlogger.Register(l))
	n.UseFunc(ctxconfig.Register(c))
	n.UseFunc(ctxclock.Register(ctxclock.GetClock(ctx)))
	n.UseFunc(ctxhttpclient.Register(ctxhttpclient.GetHTTPClient(ctx), userAgent))
	n.UseFunc(ctxtemplate.Register(templates, map[string]interface{}{"AppName": appName}))
	n.UseFunc(ctxdb.Register(ctxdb.GetDB(ctx)))
	n.UseFunc(ctxjobqueue.Register(ctxjobqueue.GetWorker(ctx)))
	n.UseFunc(ctxvideolibrary.Register(ctxvideolibrary.MustGetLibrary(ctx)))
	n.UseFunc(ctxcourseaccess.Register(courseaccess.FromToken(c.AccessToken)))
	n.UseFunc(ctxclock.AddLoggerHooks())
	n.UseFunc(ctxlogger.Log())

	if c.ApplicationMinify {
		n.UseFunc(func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
			if strings.HasPrefix(r.URL.Path, c.VideoURLBase+"/") {
				next(rw, r)
				return
			}

			mw := min.ResponseWriter(rw, r)
			defer mw.Close()

			next(mw, r)
		})
	}

	n.UseHandler(m)

	s := &http.Server{
		Addr:        addr,
		Handler:     n,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		l.Info("starting server")
		errs <- s.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		return s.Shutdown(shutdownCtx)
	}
}

func runJobQueueWorker(ctx context.Context) error {
	l := ctxlogger.GetLogger(ctx)

	l.Info("running job queue worker")

	w := ctxjobqueue.GetWorker(ctx)
	if w == nil {
		return fmt.Errorf("job queue worker not available in context")
	}

	return w.Run(ctx)
}
