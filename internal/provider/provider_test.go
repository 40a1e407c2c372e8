package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]Status{
		"queued":      StatusQueued,
		"pending":     StatusQueued,
		"processing":  StatusProcessing,
		"running":     StatusProcessing,
		"in_progress": StatusProcessing,
		"completed":   StatusCompleted,
		"succeeded":   StatusCompleted,
		"success":     StatusCompleted,
		"failed":      StatusFailed,
		"error":       StatusFailed,
		"":            StatusQueued,
		"unknown-xyz": StatusQueued,
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeStatus(in), "input=%q", in)
	}
}

func TestNormalizeJobSet_PrefersResultsOverOutputs(t *testing.T) {
	raw := rawJobSet{
		ID:      "js_1",
		Status:  "completed",
		Results: []rawResult{{Type: "image", MinURL: "https://min/1", RawURL: "https://raw/1"}},
		Outputs: []rawResult{{Type: "video", MinURL: "https://min/ignored"}},
	}
	out := normalizeJobSet(raw)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Len(t, out.Results, 1)
	assert.Equal(t, "image", out.Results[0].Type)
	assert.Equal(t, "https://min/1", out.Results[0].MinURL)
}

func TestNormalizeJobSet_FallsBackToOutputsWhenResultsEmpty(t *testing.T) {
	raw := rawJobSet{
		Status:  "completed",
		Outputs: []rawResult{{MinURL: "https://min/2"}},
	}
	out := normalizeJobSet(raw)
	require := assert.New(t)
	require.Len(out.Results, 1)
	require.Equal("image", out.Results[0].Type, "missing type defaults to image")
}

func TestNormalizeJobSet_DefensiveFieldAliasing(t *testing.T) {
	raw := rawJobSet{
		Status: "completed",
		Results: []rawResult{
			{ThumbnailURL: "https://thumb", URL: "https://full"},
		},
	}
	out := normalizeJobSet(raw)
	assert.Equal(t, "https://thumb", out.Results[0].MinURL)
	assert.Equal(t, "https://full", out.Results[0].RawURL)
}

func TestNormalizeJobSet_DropsResultWithNoURLs(t *testing.T) {
	raw := rawJobSet{
		Status:  "completed",
		Results: []rawResult{{Type: "image"}},
	}
	out := normalizeJobSet(raw)
	assert.Empty(t, out.Results)
}

func TestNormalizeJobSet_FailedCarriesProviderError(t *testing.T) {
	raw := rawJobSet{Status: "failed"}
	out := normalizeJobSet(raw)
	if assert.NotNil(t, out.Error) {
		assert.Equal(t, CodeProviderServerError, out.Error.Code)
		assert.False(t, out.Error.Retryable)
	}
}

func TestNormalizeJobSet_FailedUsesUpstreamMessageWhenPresent(t *testing.T) {
	raw := rawJobSet{
		Status: "failed",
		Error:  &struct{ Message string `json:"message"` }{Message: "gpu pool exhausted"},
	}
	out := normalizeJobSet(raw)
	assert.Equal(t, "gpu pool exhausted", out.Error.Message)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", "  "))
}
