package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogTime(t *testing.T) {
	got, err := ParseLogTime("10/Oct/2023:13:55:36 -0700")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 10, 10, 20, 55, 36, 0, time.UTC), got)

	got, err = ParseLogTime("2024-02-01T08:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())

	_, err = ParseLogTime("")
	assert.Error(t, err)
	_, err = ParseLogTime("yesterday")
	assert.Error(t, err)
}

func TestHourWindow(t *testing.T) {
	ts := time.Date(2024, 5, 1, 13, 42, 10, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC), HourWindow(ts))
}
