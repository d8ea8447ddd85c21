package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCronExpr(t *testing.T) {
	assert.NoError(t, ValidateCronExpr("*/15 * * * *"))
	assert.NoError(t, ValidateCronExpr("0 3 * * 1"))
	assert.Error(t, ValidateCronExpr("every quarter hour"))
	assert.Error(t, ValidateCronExpr("* * * *"))
}

func TestNextCronTime(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 7, 0, 0, time.UTC)

	next, err := NextCronTime("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), next)

	_, err = NextCronTime("bogus", from)
	assert.Error(t, err)
}
