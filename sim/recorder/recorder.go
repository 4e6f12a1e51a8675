// Package recorder journals typed rows and fans them out to pluggable
// backends. It has no dependency on the rest of the simulation kernel.
//
// A table's schema is fixed by the first row recorded for it; later rows must
// match column names, type tags and shapes exactly. Rows are buffered per
// table in insertion order and dispatched to every registered backend, in
// registration order, on Flush.
package recorder

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultDumpCount is the number of buffered rows that triggers an automatic flush.
const DefaultDumpCount = 10000

// SimIDColumn is the name of the injected simulation id column.
const SimIDColumn = "SimId"

var (
	// ErrSchemaMismatch is returned when a row disagrees with its table's first row.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrBackend wraps any failure reported by (or panic raised in) a backend.
	ErrBackend = errors.New("backend error")
)

// Backend is a sink for recorded rows.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string
	// Notify receives one table's batch of whole rows.
	Notify(table string, schema Schema, rows []Row) error
	// Close flushes and releases backend resources.
	Close() error
}

// Config controls recorder behavior.
type Config struct {
	InjectSimID bool // prepend a SimId column to every row
	DumpCount   int  // rows buffered before an automatic flush; <= 0 uses DefaultDumpCount
}

type tableBuf struct {
	schema Schema
	rows   []Row
}

// Recorder buffers rows per table and dispatches them to backends.
type Recorder struct {
	simID    uuid.UUID
	config   Config
	order    []string
	tables   map[string]*tableBuf
	backends []Backend
	buffered int
	flushing bool
	closed   bool
}

// New creates a Recorder for the given simulation.
func New(simID uuid.UUID, config Config) *Recorder {
	if config.DumpCount <= 0 {
		config.DumpCount = DefaultDumpCount
	}
	return &Recorder{
		simID:  simID,
		config: config,
		tables: make(map[string]*tableBuf),
	}
}

// SimID returns the simulation id injected into rows.
func (r *Recorder) SimID() uuid.UUID { return r.simID }

// DumpCount returns the automatic flush threshold.
func (r *Recorder) DumpCount() int { return r.config.DumpCount }

// RegisterBackend appends a sink. Backends receive batches in registration order.
func (r *Recorder) RegisterBackend(b Backend) {
	r.backends = append(r.backends, b)
}

// Backends returns the registered sinks.
func (r *Recorder) Backends() []Backend { return r.backends }

// Schema returns the fixed schema of a table, if any row was recorded for it.
func (r *Recorder) Schema(table string) (Schema, bool) {
	tb, ok := r.tables[table]
	if !ok {
		return nil, false
	}
	return tb.schema, true
}

// NewDatum starts a row for the named table.
func (r *Recorder) NewDatum(table string) *Datum {
	d := &Datum{rec: r, table: table}
	if r.config.InjectSimID {
		d.AddVal(SimIDColumn, r.simID)
	}
	return d
}

// push appends a completed row, fixing or checking the table schema.
func (r *Recorder) push(table string, schema Schema, row Row) error {
	if r.closed {
		return fmt.Errorf("recorder closed: cannot record into %s", table)
	}
	tb, ok := r.tables[table]
	if !ok {
		tb = &tableBuf{schema: schema}
		r.tables[table] = tb
		r.order = append(r.order, table)
	} else if !tb.schema.Equal(schema) {
		return fmt.Errorf("%w: table %s: %s", ErrSchemaMismatch, table, tb.schema.diff(schema))
	}
	tb.rows = append(tb.rows, row)
	r.buffered++
	if r.buffered >= r.config.DumpCount && !r.flushing {
		return r.Flush()
	}
	return nil
}

// Flush drains every table buffer, dispatching each batch to all backends.
// Backend failures do not stop dispatch to the remaining backends; they are
// collected and returned wrapped in ErrBackend. A Flush requested while one
// is already running is a no-op.
func (r *Recorder) Flush() error {
	if r.flushing {
		return nil
	}
	r.flushing = true
	defer func() { r.flushing = false }()

	var errs []error
	for _, name := range r.order {
		tb := r.tables[name]
		if len(tb.rows) == 0 {
			continue
		}
		rows := tb.rows
		tb.rows = nil
		r.buffered -= len(rows)
		for _, b := range r.backends {
			if err := notify(b, name, tb.schema, rows); err != nil {
				logrus.Warnf("recorder: backend %s failed on table %s: %v", b.Name(), name, err)
				errs = append(errs, err)
			}
		}
	}
	logrus.Debugf("recorder: flushed to %d backend(s)", len(r.backends))
	return errors.Join(errs...)
}

// notify calls one backend, converting panics into ErrBackend errors.
func notify(b Backend, table string, schema Schema, rows []Row) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s: table %s: panic: %v", ErrBackend, b.Name(), table, p)
		}
	}()
	if nerr := b.Notify(table, schema, rows); nerr != nil {
		return fmt.Errorf("%w: %s: table %s: %v", ErrBackend, b.Name(), table, nerr)
	}
	return nil
}

// Close flushes remaining rows, then closes every backend. It is safe to
// call more than once.
func (r *Recorder) Close() error {
	if r.closed {
		return nil
	}
	errs := []error{r.Flush()}
	for _, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: close: %v", ErrBackend, b.Name(), err))
		}
	}
	r.closed = true
	return errors.Join(errs...)
}
