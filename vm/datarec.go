package vm

import (
	"fmt"
)

// DataRec addresses element Index of a set of records. Record k is Rows[k],
// or with Aligned set the single base Rows[0] starting at k*Stride. An
// aligned view with Stride 0 shows the same row to every record; constant
// operands are read that way.
//
// The batch interpreter reads operands and writes results through DataRecs,
// so a handler writes either into a register bank or straight into the
// records.
type DataRec struct {
	Rows    [][]float32
	Stride  int
	Index   int
	Aligned bool
}

// Validate checks that n records each expose width floats from Index.
func (d DataRec) Validate(n, width int) error {
	if n == 0 {
		return nil
	}
	if d.Index < 0 || width < 0 {
		return fmt.Errorf("%w: index %d, width %d", ErrDataSegment, d.Index, width)
	}
	if d.Aligned {
		if len(d.Rows) != 1 || d.Stride < 0 {
			return fmt.Errorf("%w: aligned view needs one base and a stride of at least 0", ErrDataSegment)
		}
		if need := (n-1)*d.Stride + d.Index + width; len(d.Rows[0]) < need {
			return fmt.Errorf("%w: %d floats, want %d", ErrDataSegment, len(d.Rows[0]), need)
		}
		return nil
	}
	if len(d.Rows) < n {
		return fmt.Errorf("%w: %d rows for %d records", ErrDataSegment, len(d.Rows), n)
	}
	for k, row := range d.Rows[:n] {
		if len(row) < d.Index+width {
			return fmt.Errorf("%w: record %d holds %d floats, want %d", ErrDataSegment, k, len(row), d.Index+width)
		}
	}
	return nil
}

// At returns component c of record k.
func (d *DataRec) At(k, c int) float32 {
	if d.Aligned {
		return d.Rows[0][k*d.Stride+d.Index+c]
	}
	return d.Rows[k][d.Index+c]
}

// Set writes component c of record k.
func (d *DataRec) Set(k, c int, v float32) {
	if d.Aligned {
		d.Rows[0][k*d.Stride+d.Index+c] = v
		return
	}
	d.Rows[k][d.Index+c] = v
}

func (d *DataRec) store(k int, vs []float32) {
	if d.Aligned {
		copy(d.Rows[0][k*d.Stride+d.Index:], vs)
		return
	}
	copy(d.Rows[k][d.Index:], vs)
}

// offset returns the view of the element i floats further.
func (d DataRec) offset(i int) DataRec {
	d.Index += i
	return d
}

// constantRec shows vs to every record.
func constantRec(vs []float32) DataRec {
	return DataRec{Rows: [][]float32{vs}, Aligned: true}
}

// ---------------------------------------------------------------------------
// Register banks
// ---------------------------------------------------------------------------

// registers hands out banks of four floats per record. Banks are taken in
// stack order while an expression is evaluated and returned with release.
type registers struct {
	rows  int
	banks []DataRec
	used  int
}

func (r *registers) reset(rows int) {
	if rows > r.rows {
		r.rows, r.banks = rows, nil
	}
	r.used = 0
}

func (r *registers) acquire() DataRec {
	if r.used == len(r.banks) {
		r.banks = append(r.banks, DataRec{
			Rows:    [][]float32{make([]float32, r.rows*4)},
			Stride:  4,
			Aligned: true,
		})
	}
	b := r.banks[r.used]
	r.used++
	return b
}

func (r *registers) mark() int {
	return r.used
}

func (r *registers) release(mark int) {
	r.used = mark
}
