package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"
)

// TimeTool reports the current time, optionally in a named IANA zone.
type TimeTool struct{}

func (t *TimeTool) Name() string { return "get_current_time" }

func (t *TimeTool) Description() string {
	return "Get the current date and time. Optionally pass an IANA timezone name (e.g. \"Asia/Shanghai\")."
}

func (t *TimeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timezone": {
				"type": "string",
				"description": "IANA timezone name; defaults to the server's local zone"
			}
		}
	}`)
}

func (t *TimeTool) Execute(_ context.Context, params json.RawMessage) (string, error) {
	var args struct {
		Timezone string `json:"timezone"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return "", fmt.Errorf("invalid parameters: %w", err)
		}
	}

	now := time.Now()
	if args.Timezone != "" {
		loc, err := time.LoadLocation(args.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q: %w", args.Timezone, err)
		}
		now = now.In(loc)
	}
	return now.Format("2006-01-02 15:04:05 MST"), nil
}

// WeatherTool returns a synthetic weather report for a city. It exists to
// exercise the approval flow with a tool that takes a required argument;
// the report is deterministic per city so tests stay stable.
type WeatherTool struct{}

func (w *WeatherTool) Name() string { return "get_weather" }

func (w *WeatherTool) Description() string {
	return "Get the current weather for a city."
}

func (w *WeatherTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"city": {
				"type": "string",
				"description": "City name"
			}
		},
		"required": ["city"]
	}`)
}

var weatherConditions = []string{"sunny", "cloudy", "light rain", "overcast", "windy"}

func (w *WeatherTool) Execute(_ context.Context, params json.RawMessage) (string, error) {
	var args struct {
		City string `json:"city"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if args.City == "" {
		return "", fmt.Errorf("city is required")
	}

	h := fnv.New32a()
	h.Write([]byte(args.City))
	sum := h.Sum32()
	condition := weatherConditions[sum%uint32(len(weatherConditions))]
	temperature := 5 + int(sum%28)
	return fmt.Sprintf("%s: %s, %d°C", args.City, condition, temperature), nil
}
