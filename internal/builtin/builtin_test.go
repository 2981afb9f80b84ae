package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-toolbridge/internal/apperr"
	"agent-toolbridge/internal/config"
)

func TestRegister_Rejects(t *testing.T) {
	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }
	s := NewSet()

	require.NoError(t, s.Register(Tool{Name: "local", Handler: noop}))

	tests := []struct {
		name string
		tool Tool
	}{
		{"empty name", Tool{Handler: noop}},
		{"mcp prefix", Tool{Name: "mcp_fs_read", Handler: noop}},
		{"a2a prefix", Tool{Name: "a2a_travel", Handler: noop}},
		{"duplicate", Tool{Name: "local", Handler: noop}},
		{"no handler", Tool{Name: "other"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Register(tt.tool)
			assert.True(t, apperr.Is(err, apperr.KindConfigurationInvalid), "got %v", err)
		})
	}
	assert.Len(t, s.List(), 1)
}

func TestDefault_Schemas(t *testing.T) {
	s, err := Default(config.WeatherConfig{BaseURL: "http://localhost"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"codeCompare", "getWeather"}, s.Names())

	compare, ok := s.Get("codeCompare")
	require.True(t, ok)
	assert.Equal(t, "object", compare.InputSchema["type"])
	props, ok := compare.InputSchema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "filename")
	assert.Contains(t, props, "beforeCode")
	assert.ElementsMatch(t, []any{"filename", "beforeCode", "afterCode"}, compare.InputSchema["required"])

	weather, _ := s.Get("getWeather")
	assert.ElementsMatch(t, []any{"latitude", "longitude"}, weather.InputSchema["required"])
}

func TestCodeCompare(t *testing.T) {
	s, err := Default(config.WeatherConfig{}, nil)
	require.NoError(t, err)

	out, err := s.Call(context.Background(), "codeCompare", map[string]any{
		"filename":   "main.go",
		"beforeCode": "a\nb\n",
		"afterCode":  "a\nc\n",
	})
	require.NoError(t, err)

	res, ok := out.(CodeCompareResult)
	require.True(t, ok)
	assert.True(t, res.Changed)
	assert.Equal(t, "plaintext", res.Language)
	assert.Equal(t, "github-dark", res.DarkTheme)
	assert.Contains(t, res.Diff, "--- a/main.go")
	assert.Contains(t, res.Diff, "-b")
	assert.Contains(t, res.Diff, "+c")

	out, err = s.Call(context.Background(), "codeCompare", map[string]any{
		"filename": "x", "beforeCode": "same", "afterCode": "same", "language": "go",
	})
	require.NoError(t, err)
	res = out.(CodeCompareResult)
	assert.False(t, res.Changed)
	assert.Equal(t, "go", res.Language)
}

func TestCodeCompare_BadArgs(t *testing.T) {
	s, err := Default(config.WeatherConfig{}, nil)
	require.NoError(t, err)

	_, err = s.Call(context.Background(), "codeCompare", map[string]any{"filename": ""})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = s.Call(context.Background(), "codeCompare", map[string]any{"filename": "x", "unknown": 1})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = s.Call(context.Background(), "nope", nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestGetWeather(t *testing.T) {
	var query string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"current":{"temperature_2m":21.5}}`))
	}))
	defer ts.Close()

	s, err := Default(config.WeatherConfig{BaseURL: ts.URL + "/v1/forecast"}, ts.Client())
	require.NoError(t, err)

	out, err := s.Call(context.Background(), "getWeather", map[string]any{"latitude": 52.52, "longitude": "13.41"})
	require.NoError(t, err)

	data := out.(map[string]any)
	current := data["current"].(map[string]any)
	assert.Equal(t, 21.5, current["temperature_2m"])
	assert.True(t, strings.Contains(query, "latitude=52.52"), query)
	assert.True(t, strings.Contains(query, "longitude=13.41"), query)

	_, err = s.Call(context.Background(), "getWeather", map[string]any{"latitude": 1})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = s.Call(context.Background(), "getWeather", map[string]any{"latitude": 100, "longitude": 0})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestGetWeather_UpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer ts.Close()

	s, err := Default(config.WeatherConfig{BaseURL: ts.URL}, nil)
	require.NoError(t, err)

	_, err = s.Call(context.Background(), "getWeather", map[string]any{"latitude": 0, "longitude": 0})
	assert.True(t, apperr.Is(err, apperr.KindConnectionFailed))
}
