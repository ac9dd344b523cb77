package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMock(t *testing.T) {
	start := time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)
	c := NewMock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(time.Hour)
	assert.Equal(t, "2026-01-02", DateKey(c.Now()))
}

func TestStartOfDay(t *testing.T) {
	in := time.Date(2026, 3, 14, 15, 9, 26, 5, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), StartOfDay(in))
}
