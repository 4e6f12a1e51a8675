package recorder

import "fmt"

// Datum accumulates the fields of a single row before it is recorded.
type Datum struct {
	rec    *Recorder
	table  string
	schema Schema
	row    Row
	err    error
}

// Table returns the table this datum belongs to.
func (d *Datum) Table() string { return d.table }

// AddVal appends a field whose type tag is inferred from v.
func (d *Datum) AddVal(field string, v any, shape ...int) *Datum {
	tag, err := TagOf(v)
	if err != nil {
		if d.err == nil {
			d.err = fmt.Errorf("table %s field %s: %w", d.table, field, err)
		}
		return d
	}
	return d.AddTyped(field, v, tag, shape...)
}

// AddTyped appends a field with an explicit type tag.
func (d *Datum) AddTyped(field string, v any, tag TypeTag, shape ...int) *Datum {
	var sh []int
	if len(shape) > 0 {
		sh = append(sh, shape...)
	}
	d.schema = append(d.schema, Column{Name: field, Type: tag, Shape: sh})
	d.row = append(d.row, normalize(v))
	return d
}

// Record pushes the row onto the recorder's buffer for its table.
func (d *Datum) Record() error {
	if d.err != nil {
		return d.err
	}
	return d.rec.push(d.table, d.schema, d.row)
}
