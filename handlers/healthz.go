package handlers

import (
	"errors"
	"net/http"

	"fknsrs.biz/p/coursevideos/internal/ctxdb"
	"fknsrs.biz/p/coursevideos/internal/ctxlogger"
)

// Healthz reports ok, or 503 if the database can't be reached. Running
// without a database is not a failure.
func Healthz(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("content-type", "text/plain; charset=utf-8")

	if err := ctxdb.Ping(r.Context()); err != nil && !errors.Is(err, ctxdb.ErrNoDB) {
		ctxlogger.GetLogger(r.Context()).WithError(err).Warn("health check failed")
		rw.WriteHeader(http.StatusServiceUnavailable)
		rw.Write([]byte("database unavailable"))
		return
	}

	rw.Write([]byte("ok"))
}
