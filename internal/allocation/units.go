package allocation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TimeUnit is the closed set of time units the allocation service uses for
// plan units and component measurement units.
type TimeUnit string

const (
	UnitSecond    TimeUnit = "second"
	UnitMinute    TimeUnit = "minute"
	UnitHour      TimeUnit = "hour"
	UnitDay       TimeUnit = "day"
	UnitWeek      TimeUnit = "week"
	UnitHalfMonth TimeUnit = "half_month"
	UnitMonth     TimeUnit = "month"
	UnitQuarter   TimeUnit = "quarter"
	UnitYear      TimeUnit = "year"
)

// Months, quarters and years are fixed-length billing units, not calendar spans.
var unitSeconds = map[TimeUnit]int64{
	UnitSecond:    1,
	UnitMinute:    60,
	UnitHour:      3600,
	UnitDay:       86400,
	UnitWeek:      7 * 86400,
	UnitHalfMonth: 15 * 86400,
	UnitMonth:     30 * 86400,
	UnitQuarter:   90 * 86400,
	UnitYear:      365 * 86400,
}

var unitAliases = map[string]TimeUnit{
	"s":           UnitSecond,
	"sec":         UnitSecond,
	"secs":        UnitSecond,
	"second":      UnitSecond,
	"seconds":     UnitSecond,
	"qpu-second":  UnitSecond,
	"qpu-seconds": UnitSecond,
	"qpu_seconds": UnitSecond,
	"min":         UnitMinute,
	"mins":        UnitMinute,
	"minute":      UnitMinute,
	"minutes":     UnitMinute,
	"h":           UnitHour,
	"hour":        UnitHour,
	"hours":       UnitHour,
	"d":           UnitDay,
	"day":         UnitDay,
	"days":        UnitDay,
	"week":        UnitWeek,
	"weeks":       UnitWeek,
	"half_month":  UnitHalfMonth,
	"half-month":  UnitHalfMonth,
	"month":       UnitMonth,
	"months":      UnitMonth,
	"quarter":     UnitQuarter,
	"quarters":    UnitQuarter,
	"year":        UnitYear,
	"years":       UnitYear,
}

// ParseTimeUnit maps a raw unit label from the allocation service onto the
// closed unit set.
func ParseTimeUnit(raw string) (TimeUnit, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if unit, ok := unitAliases[key]; ok {
		return unit, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownUnit, raw)
}

// Seconds returns the length of one unit in seconds, or zero for an unknown unit.
func (u TimeUnit) Seconds() int64 {
	return unitSeconds[u]
}

func (u TimeUnit) Valid() bool {
	_, ok := unitSeconds[u]
	return ok
}

// ToSeconds converts an amount expressed in unit into seconds.
func ToSeconds(amount float64, unit TimeUnit) float64 {
	return decimal.NewFromFloat(amount).
		Mul(decimal.NewFromInt(unit.Seconds())).
		InexactFloat64()
}

// ComponentAmount converts consumed seconds into whole units, rounding any
// fractional unit up. Non-positive input yields zero.
func ComponentAmount(seconds float64, unit TimeUnit) int64 {
	size := unit.Seconds()
	if size <= 0 || seconds <= 0 {
		return 0
	}
	q, r := decimal.NewFromFloat(seconds).QuoRem(decimal.NewFromInt(size), 0)
	if r.Sign() > 0 {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.IntPart()
}
