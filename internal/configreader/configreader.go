// Package configreader fills a flat config struct from, in order, a yaml or
// toml file, command-line flags and environment variables. Later sources win.
//
// Each exported field becomes a parameter named after the snake_case form of
// the field name, or the field's `name` tag. A `name:"-"` tag skips the field.
// The file is named by the "config" parameter, which may come from any of the
// three sources.
package configreader

import (
	"encoding"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"fknsrs.biz/p/coursevideos/internal/stringutil"
)

func Read(program string, arguments, environment []string, out interface{}) error {
	params, err := parameters(out)
	if err != nil {
		return fmt.Errorf("configreader.Read: %w", err)
	}

	if configPath := findConfigPath(params, arguments, environment); configPath != "" {
		if err := readFile(configPath, out); err != nil {
			return fmt.Errorf("configreader.Read: %w", err)
		}
	}

	if err := readArguments(program, arguments, params); err != nil {
		return fmt.Errorf("configreader.Read: could not read command-line flags: %w", err)
	}

	if err := readEnvironment(environment, params); err != nil {
		return fmt.Errorf("configreader.Read: could not read environment variables: %w", err)
	}

	return nil
}

type parameter struct {
	name  string
	help  string
	field reflect.StructField
	value reflect.Value
}

func (p parameter) isText() bool {
	return reflect.PointerTo(p.field.Type).Implements(encodingTextType)
}

type encodingText interface {
	encoding.TextMarshaler
	encoding.TextUnmarshaler
}

var (
	stringType       = reflect.TypeOf("")
	boolType         = reflect.TypeOf(true)
	intType          = reflect.TypeOf(int(0))
	durationType     = reflect.TypeOf(time.Duration(0))
	encodingTextType = reflect.TypeOf((*encodingText)(nil)).Elem()
)

func parameters(out interface{}) ([]parameter, error) {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, fmt.Errorf("configreader.parameters: value must be a non-nil pointer; was instead %T", out)
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("configreader.parameters: value must be a pointer to a struct; was instead %T", out)
	}

	var params []parameter
	for i := 0; i < rv.NumField(); i++ {
		tf := rv.Type().Field(i)
		if !tf.IsExported() {
			continue
		}

		name := tf.Tag.Get("name")
		if name == "-" {
			continue
		}
		if name == "" {
			name = stringutil.PascalToSnake(tf.Name)
		}

		params = append(params, parameter{
			name:  name,
			help:  tf.Tag.Get("help"),
			field: tf,
			value: rv.Field(i),
		})
	}

	return params, nil
}

func findConfigPath(params []parameter, arguments, environment []string) string {
	if s, ok := lookupArgument(arguments, "config"); ok {
		return s
	}

	if s, ok := lookupEnvironment(environment, "config"); ok {
		return s
	}

	if p, ok := lo.Find(params, func(p parameter) bool { return p.name == "config" }); ok {
		switch {
		case p.field.Type == stringType:
			return p.value.String()
		case p.isText():
			if d, err := p.value.Addr().Interface().(encoding.TextMarshaler).MarshalText(); err == nil {
				return string(d)
			}
		}
	}

	return ""
}

func lookupArgument(arguments []string, name string) (string, bool) {
	flagName := "-" + name

	for i, arg := range arguments {
		if arg == flagName && i+1 < len(arguments) {
			return arguments[i+1], true
		}
		if v, ok := strings.CutPrefix(arg, flagName+"="); ok {
			return v, true
		}
	}

	return "", false
}

// lookupEnvironment matches names case-insensitively, so WORKERS and workers
// both set the workers parameter.
func lookupEnvironment(environment []string, name string) (string, bool) {
	for _, e := range environment {
		k, v, ok := strings.Cut(e, "=")
		if ok && strings.EqualFold(k, name) {
			return v, true
		}
	}

	return "", false
}

func readFile(filePath string, out interface{}) error {
	var decode func(fd *os.File) error

	switch filepath.Ext(filePath) {
	case ".yaml", ".yml":
		decode = func(fd *os.File) error { return yaml.NewDecoder(fd).Decode(out) }
	case ".toml":
		decode = func(fd *os.File) error { return toml.NewDecoder(fd).Decode(out) }
	default:
		return fmt.Errorf("readFile: could not determine file type for %q", filePath)
	}

	fd, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("readFile: could not open config file: %w", err)
	}
	defer fd.Close()

	if err := decode(fd); err != nil {
		return fmt.Errorf("readFile: could not parse %q: %w", filePath, err)
	}

	return nil
}

func readArguments(program string, arguments []string, params []parameter) error {
	flagSet := flag.NewFlagSet(program, flag.ContinueOnError)

	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n", program)
		flagSet.PrintDefaults()
		os.Exit(0)
	}

	for _, p := range params {
		ptr := p.value.Addr().Interface()

		switch {
		case p.field.Type == stringType:
			flagSet.StringVar(ptr.(*string), p.name, p.value.String(), p.help)
		case p.field.Type == boolType:
			flagSet.BoolVar(ptr.(*bool), p.name, p.value.Bool(), p.help)
		case p.field.Type == intType:
			flagSet.IntVar(ptr.(*int), p.name, int(p.value.Int()), p.help)
		case p.field.Type == durationType:
			flagSet.DurationVar(ptr.(*time.Duration), p.name, time.Duration(p.value.Int()), p.help)
		case p.isText():
			flagSet.TextVar(ptr.(encoding.TextUnmarshaler), p.name, ptr.(encoding.TextMarshaler), p.help)
		default:
			return fmt.Errorf("configreader.readArguments: could not define flag for parameter %s (%s) with type %s", p.field.Name, p.name, p.field.Type)
		}
	}

	return flagSet.Parse(arguments)
}

func readEnvironment(environment []string, params []parameter) error {
	for _, p := range params {
		s, ok := lookupEnvironment(environment, p.name)
		if !ok {
			continue
		}

		if err := setFromString(p, s); err != nil {
			return fmt.Errorf("configreader.readEnvironment: %w", err)
		}
	}

	return nil
}

func setFromString(p parameter, s string) error {
	switch {
	case p.field.Type == stringType:
		p.value.SetString(s)
	case p.field.Type == boolType:
		p.value.SetBool(stringutil.LooksTrue(s))
	case p.field.Type == intType:
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("could not parse parameter %s (%s) as integer: %w", p.field.Name, p.name, err)
		}
		p.value.SetInt(int64(v))
	case p.field.Type == durationType:
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("could not parse parameter %s (%s) as duration: %w", p.field.Name, p.name, err)
		}
		p.value.SetInt(int64(v))
	case p.isText():
		if err := p.value.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return fmt.Errorf("could not unmarshal parameter %s (%s): %w", p.field.Name, p.name, err)
		}
	default:
		return fmt.Errorf("could not read parameter %s (%s) of type %s", p.field.Name, p.name, p.field.Type)
	}

	return nil
}
