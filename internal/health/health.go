// Package health normalizes health-tracker exports into daily records.
package health

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"aide/internal/models"
)

// Export is the JSON document posted by the health auto-export app.
type Export struct {
	Data struct {
		Metrics []Metric `json:"metrics"`
	} `json:"data"`
}

// Metric is one exported series, newest sample first.
type Metric struct {
	Name  string   `json:"name"`
	Units string   `json:"units"`
	Data  []Sample `json:"data"`
}

// Sample is a single reading. Qty is a number or a numeric string.
type Sample struct {
	Qty  json.RawMessage `json:"qty"`
	Date string          `json:"date"`
}

// Normalize keeps the latest reading of every known metric, rounded to two
// decimals. The record's day is the date of the first metric with data, or
// now's date when the export is empty.
func Normalize(e Export, now time.Time) *models.HealthRecord {
	rec := &models.HealthRecord{}
	fields := map[string]*string{
		"flights_climbed":                   &rec.FlightsClimbed,
		"active_energy":                     &rec.ActiveEnergy,
		"basal_energy_burned":               &rec.BasalEnergyBurned,
		"step_count":                        &rec.StepCount,
		"walking_running_distance":          &rec.WalkingRunningDistance,
		"headphone_audio_exposure":          &rec.HeadphoneAudioExposure,
		"walking_step_length":               &rec.WalkingStepLength,
		"walking_speed":                     &rec.WalkingSpeed,
		"walking_asymmetry_percentage":      &rec.WalkingAsymmetryPercentage,
		"walking_double_support_percentage": &rec.WalkingDoubleSupportPercentage,
		"hr":                                &rec.HeartRate,
	}

	for _, m := range e.Data.Metrics {
		if len(m.Data) == 0 {
			continue
		}
		latest := m.Data[0]
		if rec.Day == "" {
			rec.Day, _, _ = strings.Cut(strings.TrimSpace(latest.Date), " ")
		}

		name := strings.ToLower(m.Name)
		dst, ok := fields[name]
		if !ok && strings.Contains(name, "heart") {
			dst, ok = &rec.HeartRate, true
		}
		if !ok {
			continue
		}
		*dst = ""
		if v, ok := quantity(latest.Qty); ok {
			*dst = strings.TrimSpace(strconv.FormatFloat(v, 'f', -1, 64) + " " + m.Units)
		}
	}

	if rec.Day == "" {
		rec.Day = now.Format(time.DateOnly)
	}
	return rec
}

func quantity(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	return math.Round(f*100) / 100, true
}

// Report renders the records of one week, oldest day first.
func Report(from, to string, records []*models.HealthRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Weekly health report %s to %s\n", from, to)
	if len(records) == 0 {
		b.WriteString("No health data received.")
		return b.String()
	}
	for _, r := range records {
		var parts []string
		add := func(label, v string) {
			if v != "" {
				parts = append(parts, label+" "+v)
			}
		}
		add("steps", r.StepCount)
		add("distance", r.WalkingRunningDistance)
		add("flights", r.FlightsClimbed)
		add("active", r.ActiveEnergy)
		add("basal", r.BasalEnergyBurned)
		add("hr", r.HeartRate)
		add("speed", r.WalkingSpeed)
		add("step length", r.WalkingStepLength)
		add("asymmetry", r.WalkingAsymmetryPercentage)
		add("double support", r.WalkingDoubleSupportPercentage)
		add("headphones", r.HeadphoneAudioExposure)
		if len(parts) == 0 {
			parts = append(parts, "no readings")
		}
		fmt.Fprintf(&b, "- %s: %s\n", r.Day, strings.Join(parts, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
