package gcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("IMAGEEXPORT_TEST_VALUE", "  bucket-a ")
	t.Setenv("IMAGEEXPORT_TEST_BLANK", "   ")

	assert.Equal(t, "bucket-a", GetEnv("IMAGEEXPORT_TEST_VALUE", "x"))
	assert.Equal(t, "x", GetEnv("IMAGEEXPORT_TEST_BLANK", "x"))
	assert.Equal(t, "x", GetEnv("IMAGEEXPORT_TEST_UNSET", "x"))
}

func TestTypedEnv(t *testing.T) {
	t.Setenv("IMAGEEXPORT_TEST_INT", "7")
	t.Setenv("IMAGEEXPORT_TEST_FLOAT", "0.5")
	t.Setenv("IMAGEEXPORT_TEST_DURATION", "90m")
	t.Setenv("IMAGEEXPORT_TEST_BAD", "seven")

	n, err := GetEnvInt("IMAGEEXPORT_TEST_INT", 1)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	n, err = GetEnvInt("IMAGEEXPORT_TEST_UNSET", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	_, err = GetEnvInt("IMAGEEXPORT_TEST_BAD", 1)
	assert.ErrorContains(t, err, "IMAGEEXPORT_TEST_BAD")

	f, err := GetEnvFloat("IMAGEEXPORT_TEST_FLOAT", 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, f, 1e-9)
	_, err = GetEnvFloat("IMAGEEXPORT_TEST_BAD", 0)
	assert.Error(t, err)

	d, err := GetEnvDuration("IMAGEEXPORT_TEST_DURATION", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)
	_, err = GetEnvDuration("IMAGEEXPORT_TEST_BAD", time.Hour)
	assert.Error(t, err)
}
