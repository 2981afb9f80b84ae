package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"agent-toolbridge/internal/apperr"
	"agent-toolbridge/internal/config"
)

// CodeCompareArgs are the arguments of codeCompare.
type CodeCompareArgs struct {
	Filename       string `json:"filename" jsonschema:"required,minLength=1,description=Name of the compared file"`
	BeforeCode     string `json:"beforeCode" jsonschema:"required,description=Code before the change"`
	AfterCode      string `json:"afterCode" jsonschema:"required,description=Code after the change"`
	Language       string `json:"language,omitempty" jsonschema:"description=Language used for highlighting,default=plaintext"`
	LightTheme     string `json:"lightTheme,omitempty" jsonschema:"default=github-light"`
	DarkTheme      string `json:"darkTheme,omitempty" jsonschema:"default=github-dark"`
	HighlightColor string `json:"highlightColor,omitempty"`
}

// CodeCompareResult echoes the arguments with defaults applied, plus a
// unified diff of the two versions.
type CodeCompareResult struct {
	CodeCompareArgs
	Diff    string `json:"diff"`
	Changed bool   `json:"changed"`
}

func codeCompare(_ context.Context, args CodeCompareArgs) (any, error) {
	if strings.TrimSpace(args.Filename) == "" {
		return nil, apperr.New(apperr.KindBadRequest, "codeCompare", "filename is required")
	}
	if args.Language == "" {
		args.Language = "plaintext"
	}
	if args.LightTheme == "" {
		args.LightTheme = "github-light"
	}
	if args.DarkTheme == "" {
		args.DarkTheme = "github-dark"
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(args.BeforeCode),
		B:        difflib.SplitLines(args.AfterCode),
		FromFile: "a/" + args.Filename,
		ToFile:   "b/" + args.Filename,
		Context:  3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s: %w", args.Filename, err)
	}

	return CodeCompareResult{
		CodeCompareArgs: args,
		Diff:            diff,
		Changed:         diff != "",
	}, nil
}

// WeatherArgs are the arguments of getWeather.
type WeatherArgs struct {
	Latitude  *float64 `json:"latitude" jsonschema:"required,minimum=-90,maximum=90,description=Latitude in degrees"`
	Longitude *float64 `json:"longitude" jsonschema:"required,minimum=-180,maximum=180,description=Longitude in degrees"`
}

type weatherClient struct {
	baseURL    string
	httpClient *http.Client
}

func (w *weatherClient) getWeather(ctx context.Context, args WeatherArgs) (any, error) {
	if args.Latitude == nil || args.Longitude == nil {
		return nil, apperr.New(apperr.KindBadRequest, "getWeather", "latitude and longitude are required")
	}
	lat, lon := *args.Latitude, *args.Longitude
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, apperr.New(apperr.KindBadRequest, "getWeather", "coordinates out of range")
	}

	u, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfigurationInvalid, "getWeather", err)
	}
	q := u.Query()
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("current", "temperature_2m")
	q.Set("hourly", "temperature_2m")
	q.Set("daily", "sunrise,sunset")
	q.Set("timezone", "auto")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create weather request: %w", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConnectionFailed, "getWeather", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConnectionFailed, "getWeather", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.KindConnectionFailed, "getWeather",
			fmt.Sprintf("weather request failed with status %d", resp.StatusCode))
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindProtocolInvalid, "getWeather", err)
	}
	return out, nil
}

// Default returns the local tools: codeCompare and getWeather.
func Default(cfg config.WeatherConfig, httpClient *http.Client) (*Set, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	weather := &weatherClient{baseURL: cfg.BaseURL, httpClient: httpClient}

	compareTool, err := newTool("codeCompare",
		"Render a side-by-side code comparison for a file (before vs after).", codeCompare)
	if err != nil {
		return nil, err
	}
	weatherTool, err := newTool("getWeather",
		"Get the current weather at a location.", weather.getWeather)
	if err != nil {
		return nil, err
	}

	s := NewSet()
	for _, t := range []Tool{compareTool, weatherTool} {
		if err := s.Register(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}
