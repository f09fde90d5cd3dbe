package domain

type ColumnType string

const (
	ColumnString   ColumnType = "STRING"
	ColumnLong     ColumnType = "LONG"
	ColumnDouble   ColumnType = "DOUBLE"
	ColumnDateTime ColumnType = "DATETIME"
	ColumnDate     ColumnType = "DATE"
)

type Column struct {
	Type ColumnType `json:"type"`
	Name string     `json:"name"`
}

// DatasetSchema is the column layout sent when creating a dataset.
type DatasetSchema struct {
	Columns []Column `json:"columns"`
}

// InferSchema maps each column of t to a dataset type from the kinds of its
// non-null values. Columns with no values, or values of incompatible kinds,
// become STRING.
func InferSchema(t *Table) DatasetSchema {
	cols := t.Columns()
	schema := DatasetSchema{Columns: make([]Column, 0, len(cols))}
	for _, name := range cols {
		schema.Columns = append(schema.Columns, Column{Name: name, Type: inferColumnType(t, name)})
	}
	return schema
}

func inferColumnType(t *Table, name string) ColumnType {
	kinds := make(map[ValueKind]bool)
	for _, rec := range t.Records {
		v, ok := rec.values[name]
		if !ok || v.IsNull() {
			continue
		}
		kinds[v.Kind] = true
	}

	switch {
	case len(kinds) == 0:
		return ColumnString
	case onlyKinds(kinds, KindInteger):
		return ColumnLong
	case onlyKinds(kinds, KindInteger, KindFloat):
		return ColumnDouble
	case onlyKinds(kinds, KindTimestamp):
		return ColumnDateTime
	case onlyKinds(kinds, KindDate):
		return ColumnDate
	default:
		return ColumnString
	}
}

func onlyKinds(kinds map[ValueKind]bool, allowed ...ValueKind) bool {
	allowedSet := make(map[ValueKind]bool, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = true
	}
	for k := range kinds {
		if !allowedSet[k] {
			return false
		}
	}
	return true
}
