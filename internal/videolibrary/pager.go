package videolibrary

import (
	"fmt"
	"slices"
	"strings"

	"fknsrs.biz/p/coursevideos/models"
)

const (
	DefaultPageSize = 50
	DefaultSort     = "date_added"
)

var (
	ErrInvalidPageSize = fmt.Errorf("page size must be greater than zero")
)

type PageRequest struct {
	Page      int
	PageSize  int
	Sort      string
	Ascending bool
}

func DefaultPageRequest() PageRequest {
	return PageRequest{
		Page:     0,
		PageSize: DefaultPageSize,
		Sort:     DefaultSort,
	}
}

type Page struct {
	Start      int                  `json:"start"`
	End        int                  `json:"end"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"pageSize"`
	TotalCount int                  `json:"totalCount"`
	Videos     []models.VideoRecord `json:"videos"`
	Sort       string               `json:"sort"`
}

// Paginate sorts a copy of records and cuts the requested page out of it. A
// page past the end of a non-empty listing falls back to the last page.
func Paginate(records []models.VideoRecord, req PageRequest) (*Page, error) {
	if req.PageSize <= 0 {
		return nil, fmt.Errorf("videolibrary.Paginate: got %d: %w", req.PageSize, ErrInvalidPageSize)
	}

	sorted := SortRecords(records, req.Sort, req.Ascending)

	lastPage := 0
	if len(sorted) > 0 {
		lastPage = (len(sorted) - 1) / req.PageSize
	}

	// compared before multiplying, so huge page or page_size values can't
	// overflow
	page := min(max(req.Page, 0), lastPage)
	start := page * req.PageSize
	end := start + min(req.PageSize, len(sorted)-start)

	return &Page{
		Start:      start,
		End:        end,
		Page:       page,
		PageSize:   req.PageSize,
		TotalCount: len(sorted),
		Videos:     sorted[start:end],
		Sort:       req.Sort,
	}, nil
}

// SortRecords returns a sorted copy of records. Every ordering is total, with
// ties broken by id, so descending is always the exact reverse of ascending.
// Unknown fields compare equal.
func SortRecords(records []models.VideoRecord, field string, ascending bool) []models.VideoRecord {
	sorted := make([]models.VideoRecord, len(records))
	copy(sorted, records)

	slices.SortFunc(sorted, func(a, b models.VideoRecord) int {
		if c := compareField(a, b, field); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	if !ascending {
		slices.Reverse(sorted)
	}

	return sorted
}

func compareField(a, b models.VideoRecord, field string) int {
	switch field {
	case "date_added":
		return a.DateAdded.Compare(b.DateAdded)
	case "display_name":
		return strings.Compare(a.DisplayName, b.DisplayName)
	case "url":
		return strings.Compare(a.URL, b.URL)
	case "external_url":
		return strings.Compare(a.ExternalURL, b.ExternalURL)
	case "portable_url":
		return strings.Compare(a.PortableURL, b.PortableURL)
	case "id":
		return strings.Compare(a.ID, b.ID)
	default:
		return 0
	}
}
