package httputil

import (
	"encoding/json"
	"net/http"
	"strings"
)

func NotFound(rw http.ResponseWriter, r *http.Request) {
	http.Error(rw, "Not found", http.StatusNotFound)
}

func BadRequest(rw http.ResponseWriter, r *http.Request) {
	http.Error(rw, "Bad request", http.StatusBadRequest)
}

func Forbidden(rw http.ResponseWriter, r *http.Request) {
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

func WriteJSON(rw http.ResponseWriter, status int, v interface{}) {
	d, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	WriteRawJSON(rw, status, d)
}

func WriteRawJSON(rw http.ResponseWriter, status int, d []byte) {
	rw.Header().Set("content-type", "application/json")
	rw.WriteHeader(status)
	rw.Write(d)
}

// WantsJSON reports whether a request should get a JSON response: either it
// asks for one with ?format=json, or its accept header is missing or lists
// application/json.
func WantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "json" {
		return true
	}

	accept := r.Header.Get("accept")

	return accept == "" || strings.Contains(accept, "application/json")
}
