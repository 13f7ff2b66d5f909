package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationClampsToLastEntry(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, Duration(Fast, 0))
	assert.Equal(t, 10*time.Second, Duration(Fast, 6))
	assert.Equal(t, 10*time.Second, Duration(Fast, 100))
}

func TestSlowScheduleMatchesSpec(t *testing.T) {
	assert.Equal(t, []time.Duration{
		2 * time.Second, 30 * time.Second, 60 * time.Second, 5 * time.Minute,
	}, Slow)
}

func TestDurationNegativeRetryClampsToFirst(t *testing.T) {
	assert.Equal(t, Fast[0], Duration(Fast, -3))
}
