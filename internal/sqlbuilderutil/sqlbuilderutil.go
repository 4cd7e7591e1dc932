// Package sqlbuilderutil derives sqlbuilder tables from the same struct tags
// sorm reads, so queries and records agree on table and column names.
//
// A field's column is its `sql` tag value, or the snake_case form of the
// field name. `sql:"-"` skips the field. A `table:` parameter on any field's
// tag names the table; otherwise the snake_case struct name is used.
package sqlbuilderutil

import (
	"fmt"
	"strings"

	"fknsrs.biz/p/reflectutil"
	"fknsrs.biz/p/sqlbuilder"

	"fknsrs.biz/p/coursevideos/internal/stringutil"
)

type Table struct {
	*sqlbuilder.Table
	tableName   string
	columnNames []string
	nameMap     map[string]string
}

// C accepts a field name, its lower-cased form or a column name.
func (t *Table) C(name string) *sqlbuilder.BasicColumn {
	return t.Table.C(t.ColumnName(name))
}

func (t *Table) ColumnName(name string) string {
	if columnName, ok := t.nameMap[name]; ok {
		return columnName
	}

	return name
}

func (t *Table) TableName() string { return t.tableName }

func (t *Table) ColumnNames() []string {
	return append([]string(nil), t.columnNames...)
}

func MakeTable(v interface{}) (*Table, error) {
	s, err := reflectutil.GetDescription(v)
	if err != nil {
		return nil, fmt.Errorf("sqlbuilderutil.MakeTable: could not get struct description: %w", err)
	}

	t := Table{nameMap: make(map[string]string)}

	for _, f := range s.Fields().WithoutTagValue("sql", "-") {
		columnName := stringutil.PascalToSnake(f.Name())

		if sqlTag := f.Tag("sql"); sqlTag != nil {
			if sqlTag.Value() != "" {
				columnName = sqlTag.Value()
			}

			if p := sqlTag.Parameter("table"); p != nil {
				t.tableName = p.Value()
			}
		}

		t.columnNames = append(t.columnNames, columnName)

		for _, alias := range []string{f.Name(), strings.ToLower(f.Name()), columnName} {
			t.nameMap[alias] = columnName
		}
	}

	if t.tableName == "" {
		t.tableName = stringutil.PascalToSnake(s.Name())
	}

	t.Table = sqlbuilder.NewTable(t.tableName, t.columnNames...)

	return &t, nil
}

func MustMakeTable(v interface{}) *Table {
	t, err := MakeTable(v)
	if err != nil {
		panic(err)
	}
	return t
}
