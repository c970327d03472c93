package features

// Column names, in frame order.
const (
	ColOpen   = "open"
	ColHigh   = "high"
	ColLow    = "low"
	ColClose  = "close"
	ColVolume = "volume"

	ColMon = "mon"
	ColTue = "tue"
	ColWed = "wed"
	ColThu = "thu"
	ColFri = "fri"
	ColSat = "sat"
	ColSun = "sun"

	ColIsHoliday = "is_holiday"
	ColIsOffDay  = "is_off_day"

	ColLogRet1h  = "log_ret_1h"
	ColLogRet2h  = "log_ret_2h"
	ColLogRet4h  = "log_ret_4h"
	ColLogRet12h = "log_ret_12h"
	ColLogRet24h = "log_ret_24h"

	ColVola4h  = "vola_4h"
	ColVola24h = "vola_24h"

	ColVolRatio24h = "vol_ratio_24h"
	ColBias24h     = "bias_24h"
)

// VolumeFloor is the volume at or below which an hour's volume is treated as missing.
const VolumeFloor = 10.0

// Columns lists every column a Frame carries.
var Columns = []string{
	ColOpen, ColHigh, ColLow, ColClose, ColVolume,
	ColMon, ColTue, ColWed, ColThu, ColFri, ColSat, ColSun,
	ColIsHoliday, ColIsOffDay,
	ColLogRet1h, ColLogRet2h, ColLogRet4h, ColLogRet12h, ColLogRet24h,
	ColVola4h, ColVola24h,
	ColVolRatio24h, ColBias24h,
}

// ModelColumns is the inference input order of the trained models.
// fri is the dropped day-of-week dummy.
var ModelColumns = []string{
	ColMon, ColSat, ColSun, ColThu, ColTue, ColWed,
	ColIsHoliday, ColIsOffDay,
	ColLogRet1h, ColLogRet2h, ColLogRet4h, ColLogRet12h, ColLogRet24h,
	ColVola4h, ColVola24h,
	ColVolRatio24h, ColBias24h,
}

// weekday order follows time.Weekday (Sunday first)
var dayColumns = [7]string{ColSun, ColMon, ColTue, ColWed, ColThu, ColFri, ColSat}

var logRetLags = []struct {
	col string
	n   int
}{
	{ColLogRet1h, 1}, {ColLogRet2h, 2}, {ColLogRet4h, 4}, {ColLogRet12h, 12}, {ColLogRet24h, 24},
}

var volaWindows = []struct {
	col string
	n   int
}{
	{ColVola4h, 4}, {ColVola24h, 24},
}

const meanWindow = 24

var columnIndex = func() map[string]int {
	m := make(map[string]int, len(Columns))
	for i, c := range Columns {
		m[c] = i
	}
	return m
}()
