package templatecollection

import (
	"fmt"
	"html/template"
	"time"

	"fknsrs.biz/p/coursevideos/internal/stringutil"
)

func Funcs() template.FuncMap {
	return template.FuncMap{
		"format_time": func(t time.Time) string {
			return t.Format(time.RFC3339)
		},
		"pascal_to_title": stringutil.PascalToTitle,
		"make_map": func(args ...interface{}) map[string]interface{} {
			m := make(map[string]interface{})

			for i := 0; i < len(args)/2; i++ {
				kv := args[i*2]
				vv := args[i*2+1]

				k, ok := kv.(string)
				if !ok {
					panic(fmt.Errorf("key value should be string; was instead %T", kv))
				}

				m[k] = vv
			}

			return m
		},
	}
}
