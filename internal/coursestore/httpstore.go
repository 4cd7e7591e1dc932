package coursestore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Jeffail/gabs/v2"

	"fknsrs.biz/p/coursevideos/internal/ctxhttpclient"
	"fknsrs.biz/p/coursevideos/models"
)

// HTTPStore looks courses up in an external course catalogue. A course exists
// if GET <base>/courses/<key> returns 200; the body is expected to be a JSON
// object, and its display_name field is used if present.
type HTTPStore struct {
	baseURL string
}

func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *HTTPStore) GetCourse(ctx context.Context, courseKey string) (*models.Course, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/courses/"+url.PathEscape(courseKey), nil)
	if err != nil {
		return nil, fmt.Errorf("coursestore.HTTPStore.GetCourse: could not build request: %w", err)
	}
	req.Header.Set("accept", "application/json")

	res, err := ctxhttpclient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coursestore.HTTPStore.GetCourse: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		// carry on
	case http.StatusNotFound:
		return nil, fmt.Errorf("coursestore.HTTPStore.GetCourse: %q: %w", courseKey, ErrCourseNotFound)
	default:
		return nil, fmt.Errorf("coursestore.HTTPStore.GetCourse: unexpected status %s", res.Status)
	}

	d, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("coursestore.HTTPStore.GetCourse: could not read response: %w", err)
	}

	course := models.Course{CourseKey: courseKey, DisplayName: courseKey}

	if len(strings.TrimSpace(string(d))) > 0 {
		j, err := gabs.ParseJSON(d)
		if err != nil {
			return nil, fmt.Errorf("coursestore.HTTPStore.GetCourse: could not parse response: %w", err)
		}

		if displayName, ok := j.Path("display_name").Data().(string); ok && displayName != "" {
			course.DisplayName = displayName
		}
	}

	return &course, nil
}
