package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasouyosou/internal/pricefeed"
)

var gridStart = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) // Wednesday

func closeAt(i int) float64 {
	return 60000 + float64(i*37%11)*15 + float64(i)*3.5
}

func candlesFrom(start time.Time, n int) []pricefeed.Candle {
	out := make([]pricefeed.Candle, n)
	for i := range out {
		c := decimal.NewFromFloat(closeAt(i))
		out[i] = pricefeed.Candle{
			Time:   start.Add(time.Duration(i) * time.Hour),
			Open:   c.Sub(decimal.NewFromInt(5)),
			High:   c.Add(decimal.NewFromInt(20)),
			Low:    c.Sub(decimal.NewFromInt(20)),
			Close:  c,
			Volume: decimal.NewFromInt(int64(100 + i*5)),
		}
	}
	return out
}

func TestBuildContiguousDefinesAllFeaturesFromHour24(t *testing.T) {
	f := Build(candlesFrom(gridStart, 30))
	require.Equal(t, 30, f.Len())

	for i := 24; i < 30; i++ {
		row, ok := f.At(gridStart.Add(time.Duration(i) * time.Hour))
		require.True(t, ok)
		vec, err := row.Vector(ModelColumns)
		require.NoError(t, err, "hour %d", i)
		assert.Len(t, vec, len(ModelColumns))
	}

	for i := 1; i < 30; i++ {
		got := f.Rows[i].Get(ColLogRet1h)
		require.True(t, got.Valid)
		assert.InDelta(t, math.Log(closeAt(i)/closeAt(i-1)), got.Float, 1e-12)
	}
	assert.False(t, f.Rows[0].Get(ColLogRet1h).Valid)
}

func TestBuildUndefinedBeforeEnoughHistory(t *testing.T) {
	f := Build(candlesFrom(gridStart, 30))

	row := f.Rows[23]
	_, err := row.Vector(ModelColumns)
	var undef *UndefinedError
	require.True(t, errors.As(err, &undef))
	assert.Contains(t, undef.Columns, ColLogRet24h)
	assert.Contains(t, undef.Columns, ColVola24h)
	assert.NotContains(t, undef.Columns, ColLogRet12h)
	assert.NotContains(t, undef.Columns, ColBias24h)

	assert.False(t, f.Rows[3].Get(ColVola4h).Valid)
	assert.True(t, f.Rows[4].Get(ColVola4h).Valid)
	assert.False(t, f.Rows[22].Get(ColBias24h).Valid)
	assert.True(t, f.Rows[23].Get(ColBias24h).Valid)
}

func TestBuildRollingValues(t *testing.T) {
	f := Build(candlesFrom(gridStart, 30))

	i := 10
	var rets []float64
	for k := i - 3; k <= i; k++ {
		rets = append(rets, math.Log(closeAt(k)/closeAt(k-1)))
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var ss float64
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	want := math.Sqrt(ss / float64(len(rets)-1))
	assert.InDelta(t, want, f.Rows[i].Get(ColVola4h).Float, 1e-12)

	var closeSum, volSum float64
	for k := 29 - 23; k <= 29; k++ {
		closeSum += closeAt(k)
		volSum += float64(100 + k*5)
	}
	closeMean, volMean := closeSum/24, volSum/24
	assert.InDelta(t, (closeAt(29)-closeMean)/closeMean, f.Rows[29].Get(ColBias24h).Float, 1e-12)
	assert.InDelta(t, (float64(100+29*5)-volMean)/volMean, f.Rows[29].Get(ColVolRatio24h).Float, 1e-12)
}

func TestBuildKeepsGapRows(t *testing.T) {
	candles := candlesFrom(gridStart, 30)
	candles = append(candles[:10], candles[11:]...)

	f := Build(candles)
	require.Equal(t, 30, f.Len())

	gap, ok := f.At(gridStart.Add(10 * time.Hour))
	require.True(t, ok)
	assert.False(t, gap.Get(ColClose).Valid)
	assert.False(t, gap.Get(ColVolume).Valid)
	assert.False(t, gap.Get(ColLogRet1h).Valid)
	assert.True(t, gap.Get(ColWed).Valid)
	assert.True(t, gap.Get(ColIsOffDay).Valid)

	assert.False(t, f.Rows[11].Get(ColLogRet1h).Valid)
	assert.True(t, f.Rows[11].Get(ColLogRet4h).Valid)
	assert.True(t, f.Rows[12].Get(ColLogRet1h).Valid)
	assert.False(t, f.Rows[12].Get(ColLogRet2h).Valid)
	// the gap poisons every 24h window that contains it
	assert.False(t, f.Rows[29].Get(ColBias24h).Valid)
	assert.False(t, f.Rows[29].Get(ColVola24h).Valid)
}

func TestBuildVolumeFloor(t *testing.T) {
	candles := candlesFrom(gridStart, 3)
	candles[0].Volume = decimal.NewFromInt(10)
	candles[1].Volume = decimal.RequireFromString("10.5")
	candles[2].Volume = decimal.Zero

	f := Build(candles)
	assert.False(t, f.Rows[0].Get(ColVolume).Valid)
	assert.InDelta(t, 10.5, f.Rows[1].Get(ColVolume).Float, 1e-12)
	assert.False(t, f.Rows[2].Get(ColVolume).Valid)
	// price fields survive a missing volume
	assert.True(t, f.Rows[0].Get(ColClose).Valid)
}

func TestBuildAlignsToHourGrid(t *testing.T) {
	base := candlesFrom(gridStart, 3)
	offGrid := base[1]
	offGrid.Time = gridStart.Add(90 * time.Minute)
	dupFirst := base[0]
	dupFirst.Close = decimal.NewFromInt(1)

	f := Build([]pricefeed.Candle{base[2], dupFirst, offGrid, base[0]})
	require.Equal(t, 3, f.Len())

	// last duplicate wins
	assert.InDelta(t, closeAt(0), f.Rows[0].Get(ColClose).Float, 1e-9)
	// 01:00 has no exact match
	assert.False(t, f.Rows[1].Get(ColClose).Valid)

	_, ok := f.At(gridStart.Add(time.Millisecond))
	assert.False(t, ok)
	_, ok = f.At(gridStart.Add(2 * time.Hour))
	assert.True(t, ok)
}

func TestBuildEmpty(t *testing.T) {
	f := Build(nil)
	assert.Equal(t, 0, f.Len())
	_, ok := f.At(gridStart)
	assert.False(t, ok)
}

func TestCalendarColumns(t *testing.T) {
	tests := []struct {
		name    string
		at      time.Time
		day     string
		holiday bool
		offDay  bool
	}{
		{"independence day", time.Date(2024, 7, 4, 15, 0, 0, 0, time.UTC), ColThu, true, true},
		{"observed christmas", time.Date(2021, 12, 24, 3, 0, 0, 0, time.UTC), ColFri, true, true},
		{"saturday", time.Date(2024, 7, 6, 12, 0, 0, 0, time.UTC), ColSat, false, true},
		{"plain wednesday", time.Date(2024, 7, 3, 12, 0, 0, 0, time.UTC), ColWed, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Build(candlesFrom(tt.at, 1))
			row, ok := f.At(tt.at)
			require.True(t, ok)

			for _, col := range dayColumns {
				want := 0.0
				if col == tt.day {
					want = 1
				}
				assert.Equal(t, want, row.Get(col).Float, col)
			}
			assert.Equal(t, tt.holiday, row.Get(ColIsHoliday).Float == 1)
			assert.Equal(t, tt.offDay, row.Get(ColIsOffDay).Float == 1)
		})
	}
}

func TestVectorUnknownColumn(t *testing.T) {
	f := Build(candlesFrom(gridStart, 1))
	_, err := f.Rows[0].Vector([]string{ColMon, "nope"})
	var undef *UndefinedError
	require.ErrorAs(t, err, &undef)
	assert.Equal(t, []string{"nope"}, undef.Columns)
}

func TestValueJSON(t *testing.T) {
	b, err := Value{}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
	assert.False(t, Some(math.NaN()).Valid)
	assert.Equal(t, "1.5", Some(1.5).String())
}
