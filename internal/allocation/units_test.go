package allocation

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeUnit(t *testing.T) {
	cases := map[string]TimeUnit{
		"hour":        UnitHour,
		" Hours ":     UnitHour,
		"QPU-seconds": UnitSecond,
		"half-month":  UnitHalfMonth,
		"min":         UnitMinute,
	}
	for raw, want := range cases {
		got, err := ParseTimeUnit(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseTimeUnit("fortnight")
	assert.True(t, errors.Is(err, ErrUnknownUnit))
}

func TestToSeconds(t *testing.T) {
	assert.Equal(t, 3600.0, ToSeconds(1, UnitHour))
	assert.Equal(t, 5400.0, ToSeconds(1.5, UnitHour))
	assert.Equal(t, 0.0, ToSeconds(10, TimeUnit("bogus")))
}

func TestComponentAmountShortJobBillsOneHour(t *testing.T) {
	assert.Equal(t, int64(1), ComponentAmount(2.24, UnitHour))
}

func TestComponentAmountNeverUnderBills(t *testing.T) {
	units := []TimeUnit{UnitSecond, UnitMinute, UnitHour, UnitDay, UnitMonth}
	samples := []float64{0.001, 1, 2.24, 59.999, 60, 61, 3599.5, 3600, 3600.01, 285000.5}

	for _, unit := range units {
		size := float64(unit.Seconds())
		for _, seconds := range samples {
			amount := ComponentAmount(seconds, unit)
			assert.Equal(t, int64(math.Ceil(seconds/size)), amount, "%v %s", seconds, unit)
			assert.GreaterOrEqual(t, float64(amount)*size, seconds, "%v %s", seconds, unit)
		}
	}
}

func TestComponentAmountNonPositive(t *testing.T) {
	assert.Zero(t, ComponentAmount(0, UnitHour))
	assert.Zero(t, ComponentAmount(-5, UnitHour))
	assert.Zero(t, ComponentAmount(5, TimeUnit("bogus")))
}
