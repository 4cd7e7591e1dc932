// Package ctxtemplate renders pages from the template collection in the
// request context. Site-wide values registered with the collection, and the
// request id, are merged into every page's data.
package ctxtemplate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"fknsrs.biz/p/coursevideos/internal/ctxlogger"
	"fknsrs.biz/p/coursevideos/internal/templatecollection"
)

var collectionKey int

func WithCollection(ctx context.Context, collection templatecollection.Collection) context.Context {
	return context.WithValue(ctx, &collectionKey, collection)
}

func getCollection(ctx context.Context) templatecollection.Collection {
	if v := ctx.Value(&collectionKey); v != nil {
		return v.(templatecollection.Collection)
	}

	return nil
}

var dataKey int

// WithData adds values that every template rendered with ctx can see. Nested
// maps are merged rather than replaced.
func WithData(ctx context.Context, data map[string]interface{}) context.Context {
	return context.WithValue(ctx, &dataKey, mergeMaps(mergeMaps(nil, getData(ctx)), data))
}

func getData(ctx context.Context) map[string]interface{} {
	if v := ctx.Value(&dataKey); v != nil {
		return v.(map[string]interface{})
	}

	return nil
}

func mergeMaps(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{})
	}

	for k, v := range src {
		dstMap, dstOK := dst[k].(map[string]interface{})
		srcMap, srcOK := v.(map[string]interface{})

		if dstOK && srcOK {
			dst[k] = mergeMaps(mergeMaps(nil, dstMap), srcMap)
		} else {
			dst[k] = v
		}
	}

	return dst
}

func Register(collection templatecollection.Collection, data map[string]interface{}) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		ctx := WithCollection(r.Context(), collection)
		if data != nil {
			ctx = WithData(ctx, data)
		}

		next(rw, r.WithContext(ctx))
	}
}

var (
	ErrNoCollectionInContext = fmt.Errorf("collection not found in context")
)

func ExecuteTemplate(ctx context.Context, wr io.Writer, name string, data map[string]interface{}) error {
	collection := getCollection(ctx)
	if collection == nil {
		return ErrNoCollectionInContext
	}

	merged := mergeMaps(nil, getData(ctx))
	if requestID := ctxlogger.GetRequestID(ctx); requestID != "" {
		merged["RequestID"] = requestID
	}

	if err := collection.ExecuteTemplate(wr, name, mergeMaps(merged, data)); err != nil {
		return fmt.Errorf("ctxtemplate.ExecuteTemplate: %w", err)
	}

	return nil
}

// ExecuteTemplateIntoResponse renders the whole page before writing anything,
// so a failing template leaves the response untouched for the caller to
// report.
func ExecuteTemplateIntoResponse(r *http.Request, rw http.ResponseWriter, name string, data map[string]interface{}) error {
	var buf bytes.Buffer
	if err := ExecuteTemplate(r.Context(), &buf, name, data); err != nil {
		return err
	}

	rw.Header().Set("content-type", "text/html; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	_, err := buf.WriteTo(rw)

	return err
}
