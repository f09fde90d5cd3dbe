package domain

import (
	"encoding/csv"
	"fmt"
	"io"
)

const DomainColumn = "domain"

// Table is an ordered set of log records, typically one tenant's result for a
// date range or the concatenation of several tenants.
type Table struct {
	Records []Record
}

func NewTable(records ...Record) *Table {
	return &Table{Records: records}
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Records)
}

func (t *Table) Append(records ...Record) {
	t.Records = append(t.Records, records...)
}

// Columns returns the union of record keys in first-seen order.
func (t *Table) Columns() []string {
	if t == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var cols []string
	for _, rec := range t.Records {
		for _, key := range rec.keys {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			cols = append(cols, key)
		}
	}
	return cols
}

// TagDomain sets the domain column on every record.
func (t *Table) TagDomain(domain string) {
	if t == nil {
		return
	}
	v := StringValue(domain)
	if domain == "" {
		v = NullValue()
	}
	for i := range t.Records {
		t.Records[i].Set(DomainColumn, v)
	}
}

// Concat appends the records of every non-nil table, preserving order.
func Concat(tables ...*Table) *Table {
	out := &Table{}
	for _, t := range tables {
		if t == nil {
			continue
		}
		out.Records = append(out.Records, t.Records...)
	}
	return out
}

// EncodeCSV writes a header row followed by one row per record. Cells a
// record does not carry are written empty.
func (t *Table) EncodeCSV(w io.Writer) error {
	cols := t.Columns()
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	var records []Record
	if t != nil {
		records = t.Records
	}
	row := make([]string, len(cols))
	for _, rec := range records {
		for i, col := range cols {
			v, ok := rec.values[col]
			if !ok {
				row[i] = ""
				continue
			}
			row[i] = v.String()
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
