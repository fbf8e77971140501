package metric

import "fmt"

// DataSetValue is a table of typed columns. Every row holds one value per
// column, typed like the column.
type DataSetValue struct {
	Columns []string
	Types   []DataType
	Rows    [][]interface{}
}

// Clone returns a copy sharing no storage with d.
func (d *DataSetValue) Clone() *DataSetValue {
	if d == nil {
		return nil
	}

	out := &DataSetValue{
		Columns: append([]string(nil), d.Columns...),
		Types:   append([]DataType(nil), d.Types...),
	}

	if d.Rows != nil {
		out.Rows = make([][]interface{}, len(d.Rows))
		for i, row := range d.Rows {
			out.Rows[i] = make([]interface{}, len(row))
			for j, v := range row {
				out.Rows[i][j] = cloneValue(v)
			}
		}
	}

	return out
}

func (d *DataSetValue) Validate() error {
	if len(d.Columns) != len(d.Types) {
		return fmt.Errorf("dataset has %d columns and %d types: %w",
			len(d.Columns), len(d.Types), ErrTypeMismatch)
	}

	for i, row := range d.Rows {
		if len(row) != len(d.Columns) {
			return fmt.Errorf("dataset row %d has %d values, want %d: %w",
				i, len(row), len(d.Columns), ErrTypeMismatch)
		}

		for j, v := range row {
			if v == nil {
				continue
			}

			if err := CheckValue(d.Types[j], v); err != nil {
				return fmt.Errorf("dataset row %d column %q: %w", i, d.Columns[j], err)
			}
		}
	}

	return nil
}

// TemplateValue is a Sparkplug B template definition or instance.
type TemplateValue struct {
	Version      string
	TemplateRef  string
	IsDefinition bool
	Metrics      []Metric
}

// Clone returns a copy sharing no storage with t.
func (t *TemplateValue) Clone() *TemplateValue {
	if t == nil {
		return nil
	}

	out := *t
	if t.Metrics != nil {
		out.Metrics = make([]Metric, len(t.Metrics))
		for i, m := range t.Metrics {
			out.Metrics[i] = m.Clone()
		}
	}

	return &out
}

func (t *TemplateValue) Validate() error {
	for _, m := range t.Metrics {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("template member: %w", err)
		}
	}

	return nil
}

func cloneValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		if x == nil {
			return x
		}
		return append([]byte{}, x...)
	case *DataSetValue:
		return x.Clone()
	case *TemplateValue:
		return x.Clone()
	default:
		return v
	}
}
