package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/raphi011/allureboard/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, model.StatusPassed, model.NormalizeStatus("passed"))
	assert.Equal(t, model.StatusBroken, model.NormalizeStatus(" Broken "))
	assert.Equal(t, model.StatusUnknown, model.NormalizeStatus(""))
	assert.Equal(t, model.Status("PENDING"), model.NormalizeStatus("pending"))
	assert.False(t, model.NormalizeStatus("pending").Canonical())
}

func TestParseTagMatchMode(t *testing.T) {
	m, err := model.ParseTagMatchMode("")
	assert.NoError(t, err)
	assert.Equal(t, model.TagMatchAll, m)

	m, err = model.ParseTagMatchMode("ANY")
	assert.NoError(t, err)
	assert.Equal(t, model.TagMatchAny, m)

	_, err = model.ParseTagMatchMode("some")
	var qe model.QueryError
	assert.True(t, errors.As(err, &qe), "expected query error")
	assert.Equal(t, "tagMatch", qe.Param)
}

func TestFilterValidateRejectsInvertedRange(t *testing.T) {
	start := time.Date(2025, 2, 12, 0, 0, 0, 0, time.Local)
	end := start.Add(-time.Hour)

	err := model.Filter{Start: &start, End: &end}.Validate()

	var qe model.QueryError
	assert.True(t, errors.As(err, &qe), "expected query error, got %v", err)
}

func TestFilterValidateRejectsUnknownTagMatch(t *testing.T) {
	err := model.Filter{TagMatch: "most"}.Validate()
	assert.Error(t, err)
	assert.NoError(t, model.Filter{}.Validate())
}
