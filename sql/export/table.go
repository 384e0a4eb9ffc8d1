package export

import (
	"fmt"
	"strings"
)

// Table identifies a table, optionally qualified by schema (database).
// The text form is "name" or "schema.name", and is used for JSON.
type Table struct {
	Schema string
	Name   string
}

// ParseTables parses table names like "name" or "schema.name", splitting each value on ",", trimming space, and
// skipping empty values.
func ParseTables(values []string) (tables []Table, err error) {
	for _, value := range values {
		for s := range strings.SplitSeq(value, `,`) {
			if s = strings.TrimSpace(s); s == `` {
				continue
			}
			var table Table
			if err = table.UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			tables = append(tables, table)
		}
	}
	return tables, nil
}

func (x Table) String() string {
	if x.Schema == `` {
		return x.Name
	}
	return x.Schema + `.` + x.Name
}

func (x Table) valid() bool {
	return x.Name != `` && !strings.Contains(x.Name, `.`) && !strings.Contains(x.Schema, `.`)
}

func (x *Table) UnmarshalText(text []byte) error {
	var v Table
	if schema, name, ok := strings.Cut(string(text), `.`); ok {
		if schema == `` {
			return fmt.Errorf(`invalid table: %q`, text)
		}
		v = Table{Schema: schema, Name: name}
	} else {
		v = Table{Name: schema}
	}
	if !v.valid() {
		return fmt.Errorf(`invalid table: %q`, text)
	}
	*x = v
	return nil
}

func (x Table) MarshalText() ([]byte, error) {
	if !x.valid() {
		return nil, fmt.Errorf(`invalid table: %q`, x)
	}
	return []byte(x.String()), nil
}
