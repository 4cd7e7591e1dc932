// Package templatecollection builds one html/template set per page. A page
// named page_x is parsed from page_x.gohtml together with layout.gohtml and
// every shared_*.gohtml, found either at the root of the filesystem or one
// directory down.
package templatecollection

import (
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/samber/lo"
)

type Collection interface {
	ExecuteTemplate(wr io.Writer, name string, data interface{}) error
}

var ErrTemplateNotFound = fmt.Errorf("template not found")

// Cached parses every page once, up front.
type Cached struct {
	l sync.RWMutex
	m map[string]*template.Template
}

func NewCached(fileSystem fs.FS, funcs template.FuncMap) (Collection, error) {
	pageFiles, err := globAll(fileSystem, []string{"page_*.gohtml"})
	if err != nil {
		return nil, fmt.Errorf("templatecollection.NewCached: %w", err)
	}

	c := Cached{m: make(map[string]*template.Template)}

	for _, pageFile := range pageFiles {
		name := strings.TrimSuffix(path.Base(pageFile), ".gohtml")

		tpl, err := parsePage(fileSystem, funcs, name)
		if err != nil {
			return nil, fmt.Errorf("templatecollection.NewCached: %w", err)
		}

		c.m[name] = tpl
	}

	return &c, nil
}

func (c *Cached) ExecuteTemplate(wr io.Writer, name string, data interface{}) error {
	c.l.RLock()
	tpl, ok := c.m[name]
	c.l.RUnlock()

	if !ok {
		return fmt.Errorf("templatecollection.Cached.ExecuteTemplate: %q: %w", name, ErrTemplateNotFound)
	}

	if err := tpl.ExecuteTemplate(wr, name, data); err != nil {
		return fmt.Errorf("templatecollection.Cached.ExecuteTemplate: %w", err)
	}

	return nil
}

// Live parses the page again on every call, for editing templates without a
// restart.
type Live struct {
	fs fs.FS
	m  template.FuncMap
}

func NewLive(fileSystem fs.FS, funcs template.FuncMap) (Collection, error) {
	return &Live{fs: fileSystem, m: funcs}, nil
}

func (l *Live) ExecuteTemplate(wr io.Writer, name string, data interface{}) error {
	tpl, err := parsePage(l.fs, l.m, name)
	if err != nil {
		return fmt.Errorf("templatecollection.Live.ExecuteTemplate: %w", err)
	}

	if err := tpl.ExecuteTemplate(wr, name, data); err != nil {
		return fmt.Errorf("templatecollection.Live.ExecuteTemplate: %w", err)
	}

	return nil
}

func parsePage(fileSystem fs.FS, funcs template.FuncMap, name string) (*template.Template, error) {
	pageFiles, err := globAll(fileSystem, []string{name + ".gohtml"})
	if err != nil {
		return nil, fmt.Errorf("parsePage: %w", err)
	}
	if len(pageFiles) == 0 {
		return nil, fmt.Errorf("parsePage: %q: %w", name, ErrTemplateNotFound)
	}

	supportFiles, err := globAll(fileSystem, []string{"layout.gohtml", "shared_*.gohtml"})
	if err != nil {
		return nil, fmt.Errorf("parsePage: %w", err)
	}

	tpl := template.New(name)
	if funcs != nil {
		tpl = tpl.Funcs(funcs)
	}

	tpl, err = tpl.ParseFS(fileSystem, append(pageFiles, supportFiles...)...)
	if err != nil {
		return nil, fmt.Errorf("parsePage: could not construct template %q: %w", name, err)
	}

	return tpl, nil
}

func globAll(fileSystem fs.FS, patterns []string) ([]string, error) {
	var names []string

	for _, pattern := range patterns {
		for _, p := range []string{pattern, "*/" + pattern} {
			matches, err := fs.Glob(fileSystem, p)
			if err != nil {
				return nil, fmt.Errorf("globAll: could not get names for pattern %q: %w", p, err)
			}

			names = append(names, matches...)
		}
	}

	return lo.Uniq(names), nil
}
