package features

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"kasouyosou/internal/pricefeed"
)

const step = time.Hour

// Row is one hourly grid point.
type Row struct {
	Time   time.Time
	values []Value
}

// Get returns the named cell. Unknown columns are undefined.
func (r *Row) Get(col string) Value {
	i, ok := columnIndex[col]
	if !ok {
		return Value{}
	}
	return r.values[i]
}

func (r *Row) set(col string, v Value) {
	r.values[columnIndex[col]] = v
}

// UndefinedError lists the required columns a row cannot supply.
type UndefinedError struct {
	Time    time.Time
	Columns []string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("row %s has undefined features: %s", e.Time.UTC().Format(time.RFC3339), strings.Join(e.Columns, ", "))
}

// Vector extracts cols in order. Any undefined or unknown column fails the
// whole row; no default is ever substituted.
func (r *Row) Vector(cols []string) ([]float64, error) {
	out := make([]float64, len(cols))
	var missing []string
	for i, c := range cols {
		v := r.Get(c)
		if !v.Valid {
			missing = append(missing, c)
			continue
		}
		out[i] = v.Float
	}
	if len(missing) > 0 {
		return nil, &UndefinedError{Time: r.Time, Columns: missing}
	}
	return out, nil
}

// Frame is the feature table on a strict hourly UTC grid.
type Frame struct {
	Rows  []Row
	index map[int64]int
}

// At finds the row whose timestamp equals t to the millisecond.
func (f *Frame) At(t time.Time) (*Row, bool) {
	i, ok := f.index[t.UnixMilli()]
	if !ok {
		return nil, false
	}
	return &f.Rows[i], true
}

func (f *Frame) Len() int {
	return len(f.Rows)
}

// Build reindexes candles onto an hourly grid and derives every feature column.
func Build(candles []pricefeed.Candle) *Frame {
	return BuildWithCalendar(candles, NewUSCalendar())
}

func BuildWithCalendar(candles []pricefeed.Candle, calendar *Calendar) *Frame {
	f := &Frame{index: map[int64]int{}}
	if len(candles) == 0 {
		return f
	}

	byTime := make(map[int64]pricefeed.Candle, len(candles))
	times := make([]time.Time, 0, len(candles))
	for _, c := range candles {
		ms := c.Time.UnixMilli()
		if _, seen := byTime[ms]; !seen {
			times = append(times, c.Time)
		}
		byTime[ms] = c
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	first := times[0].UTC().Truncate(step)
	last := times[len(times)-1].UTC().Truncate(step)
	n := int(last.Sub(first)/step) + 1

	f.Rows = make([]Row, n)
	for i := range f.Rows {
		t := first.Add(time.Duration(i) * step)
		row := Row{Time: t, values: make([]Value, len(Columns))}
		f.index[t.UnixMilli()] = i

		if c, ok := byTime[t.UnixMilli()]; ok {
			row.set(ColOpen, Some(c.Open.InexactFloat64()))
			row.set(ColHigh, Some(c.High.InexactFloat64()))
			row.set(ColLow, Some(c.Low.InexactFloat64()))
			row.set(ColClose, Some(c.Close.InexactFloat64()))
			if vol := c.Volume.InexactFloat64(); vol > VolumeFloor {
				row.set(ColVolume, Some(vol))
			}
		}

		wd := t.Weekday()
		for d, col := range dayColumns {
			row.set(col, Bool(int(wd) == d))
		}
		holiday := calendar.IsHoliday(t)
		row.set(ColIsHoliday, Bool(holiday))
		row.set(ColIsOffDay, Bool(holiday || isWeekend(t)))

		f.Rows[i] = row
	}

	closes := f.column(ColClose)
	for _, lag := range logRetLags {
		for i := lag.n; i < n; i++ {
			f.Rows[i].set(lag.col, logReturn(closes[i], closes[i-lag.n]))
		}
	}

	rets := f.column(ColLogRet1h)
	for _, w := range volaWindows {
		for i := w.n - 1; i < n; i++ {
			if xs, ok := window(rets, i, w.n); ok {
				f.Rows[i].set(w.col, Some(stat.StdDev(xs, nil)))
			}
		}
	}

	volumes := f.column(ColVolume)
	for i := meanWindow - 1; i < n; i++ {
		f.Rows[i].set(ColVolRatio24h, deviation(volumes, i))
		f.Rows[i].set(ColBias24h, deviation(closes, i))
	}

	return f
}

func (f *Frame) column(col string) []Value {
	out := make([]Value, len(f.Rows))
	for i := range f.Rows {
		out[i] = f.Rows[i].Get(col)
	}
	return out
}

func logReturn(cur, prev Value) Value {
	if !cur.Valid || !prev.Valid || cur.Float <= 0 || prev.Float <= 0 {
		return Value{}
	}
	return Some(math.Log(cur.Float / prev.Float))
}

// window returns the n values ending at i; ok is false if any is undefined.
func window(vs []Value, i, n int) ([]float64, bool) {
	if i-n+1 < 0 {
		return nil, false
	}
	xs := make([]float64, 0, n)
	for _, v := range vs[i-n+1 : i+1] {
		if !v.Valid {
			return nil, false
		}
		xs = append(xs, v.Float)
	}
	return xs, true
}

// deviation is (x - mean24) / mean24 at i.
func deviation(vs []Value, i int) Value {
	xs, ok := window(vs, i, meanWindow)
	if !ok {
		return Value{}
	}
	mean := stat.Mean(xs, nil)
	if mean == 0 {
		return Value{}
	}
	return Some((vs[i].Float - mean) / mean)
}
