package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/coursevideos/models"
)

type LevelList []logrus.Level

func (a LevelList) MarshalText() ([]byte, error) {
	if len(a) == 0 {
		return []byte("-"), nil
	}

	var s string

	for i, e := range a {
		if i != 0 {
			s += ","
		}

		s += e.String()
	}

	return []byte(s), nil
}

func (a *LevelList) UnmarshalText(d []byte) error {
	if string(d) == "" || string(d) == "-" {
		*a = LevelList{}
		return nil
	}

	var aa LevelList

	for _, e := range strings.Split(string(d), ",") {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}

		l, err := logrus.ParseLevel(e)
		if err != nil {
			return fmt.Errorf("config.LevelList.UnmarshalText: could not parse value as logrus level: %w", err)
		}

		aa = append(aa, l)
	}

	*a = aa

	return nil
}

type LogQueries struct {
	Enabled    bool
	SlowerThan time.Duration
}

func (l LogQueries) String() string {
	if l.Enabled {
		if l.SlowerThan != 0 {
			return ">" + l.SlowerThan.String()
		}

		return "all"
	}

	return "none"
}

func (l LogQueries) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *LogQueries) UnmarshalText(d []byte) error {
	s := string(d)

	switch s {
	case "all":
		l.Enabled = true
		l.SlowerThan = 0
		return nil
	case "", "none":
		l.Enabled = false
		l.SlowerThan = 0
		return nil
	default:
		if s[0] == '>' && len(s) > 1 {
			d, err := time.ParseDuration(s[1:])
			if err != nil {
				return fmt.Errorf("config.LogQueries.UnmarshalText: could not parse value as duration: %w", err)
			}
			l.Enabled = true
			l.SlowerThan = d
			return nil
		}

		return fmt.Errorf("config.LogQueries.UnmarshalText: unrecognised input %q; valid options are none, all, or >x where x is a duration", s)
	}
}

func (l *LogQueries) IsZero() bool {
	return l.Enabled == false && l.SlowerThan == 0
}

type CacheBackend string

const (
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendBBolt  CacheBackend = "bbolt"
)

func (c CacheBackend) MarshalText() ([]byte, error) {
	return []byte(c), nil
}

func (c *CacheBackend) UnmarshalText(d []byte) error {
	switch v := CacheBackend(strings.ToLower(strings.TrimSpace(string(d)))); v {
	case CacheBackendMemory, CacheBackendBBolt:
		*c = v
		return nil
	case "":
		*c = CacheBackendMemory
		return nil
	default:
		return fmt.Errorf("config.CacheBackend.UnmarshalText: unrecognised input %q; valid options are memory or bbolt", string(d))
	}
}

type CourseList []models.CourseKey

func (a CourseList) MarshalText() ([]byte, error) {
	var s []string
	for _, e := range a {
		s = append(s, e.String())
	}

	return []byte(strings.Join(s, ",")), nil
}

func (a *CourseList) UnmarshalText(d []byte) error {
	var aa CourseList

	for _, e := range strings.Split(string(d), ",") {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}

		k, err := models.ParseCourseKey(e)
		if err != nil {
			return fmt.Errorf("config.CourseList.UnmarshalText: %w", err)
		}

		aa = append(aa, k)
	}

	*a = aa

	return nil
}

type Config struct {
	Config               string        `name:"config" toml:"config" yaml:"config" help:"Config file location."`
	LogLevel             logrus.Level  `name:"log_level" toml:"log_level" yaml:"log_level" help:"Global log level."`
	LogDebugLevels       LevelList     `name:"log_debug_levels" toml:"log_debug_levels" yaml:"log_debug_levels" help:"Which log levels to include stack data on."`
	LogQueries           LogQueries    `name:"log_queries" toml:"log_queries" yaml:"log_queries" help:"Log SQL queries."`
	LogSORM              bool          `name:"log_sorm" toml:"log_sorm" yaml:"log_sorm" help:"Log SORM queries."`
	ApplicationAddr      string        `name:"application_addr" toml:"application_addr" yaml:"application_addr" help:"Address to listen on for application server."`
	ApplicationDatabase  string        `name:"application_database" toml:"application_database" yaml:"application_database" help:"Database location for application."`
	ApplicationCachePath string        `name:"application_cache_path" toml:"application_cache_path" yaml:"application_cache_path" help:"Location for HTTP client and listing cache."`
	ApplicationDataPath  string        `name:"application_data_path" toml:"application_data_path" yaml:"application_data_path" help:"Location for uploaded course videos."`
	ApplicationMinify    bool          `name:"application_minify" toml:"application_minify" yaml:"application_minify" help:"Minify HTML/CSS/JS output."`
	BackgroundWorkers    int           `name:"background_workers" toml:"background_workers" yaml:"background_workers" help:"How many background workers to run."`
	VideoURLBase         string        `name:"video_url_base" toml:"video_url_base" yaml:"video_url_base" help:"URL path videos are served from, also their directory inside the data path."`
	LMSBase              string        `name:"lms_base" toml:"lms_base" yaml:"lms_base" help:"Scheme and host prepended to video URLs to make external URLs."`
	ListingCache         CacheBackend  `name:"listing_cache" toml:"listing_cache" yaml:"listing_cache" help:"Where to cache video listings (memory or bbolt)."`
	CourseStoreURL       string        `name:"course_store_url" toml:"course_store_url" yaml:"course_store_url" help:"Base URL of an external course catalogue; empty uses the local database."`
	CourseStoreCacheAge  time.Duration `name:"course_store_cache_age" toml:"course_store_cache_age" yaml:"course_store_cache_age" help:"How long to cache course catalogue responses."`
	SeedCourses          CourseList    `name:"seed_courses" toml:"seed_courses" yaml:"seed_courses" help:"Comma separated org/course/run keys to create in the local database at startup."`
	ReconcileInterval    time.Duration `name:"reconcile_interval" toml:"reconcile_interval" yaml:"reconcile_interval" help:"How often to check cached listings against the filesystem; 0 disables."`
	UploadMaxMemory      int           `name:"upload_max_memory" toml:"upload_max_memory" yaml:"upload_max_memory" help:"Bytes of an upload to hold in memory before spilling to disk."`
	AccessToken          string        `name:"access_token" toml:"access_token" yaml:"access_token" help:"Bearer token required for video requests; empty allows everything."`
}

// VideoDir is where VideoURLBase lives on disk.
func (c Config) VideoDir() string {
	return filepath.Join(c.ApplicationDataPath, filepath.FromSlash(c.VideoURLBase))
}
