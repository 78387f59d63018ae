package conf

import (
	"net/url"

	"github.com/skyspy/flightradar-go/internal/errors"
)

var validRadarTypes = map[string]bool{
	"mm2":     true,
	"vrs":     true,
	"dmp1090": true,
}

// ValidateSettings checks the loaded settings for values the application
// cannot start with. Validation failures are fatal at startup only; settings
// are never re-validated at runtime.
func ValidateSettings(settings *Settings) error {
	if err := validateRadarSettings(&settings.Radar); err != nil {
		return err
	}
	if err := validateTrackerSettings(&settings.Tracker); err != nil {
		return err
	}
	return validateOutputSettings(&settings.Output)
}

func validateRadarSettings(radar *RadarSettings) error {
	if !validRadarTypes[radar.Type] {
		return errors.Newf("invalid radar service type: %q", radar.Type).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	parsed, err := url.Parse(radar.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.Newf("invalid radar service URL: %q", radar.URL).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if radar.PollInterval <= 0 {
		return errors.Newf("radar poll interval must be positive, got %d", radar.PollInterval).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	return nil
}

func validateTrackerSettings(tracker *TrackerSettings) error {
	if tracker.ContinuationMinutes <= 0 {
		return errors.Newf("continuation threshold must be positive, got %d", tracker.ContinuationMinutes).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	// 0 disables retention, negative values are invalid
	if tracker.RetentionMinutes < 0 {
		return errors.Newf("retention window must be >= 0, got %d", tracker.RetentionMinutes).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if tracker.HashCacheCap <= 0 {
		return errors.Newf("hash cache cap must be positive, got %d", tracker.HashCacheCap).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if tracker.BatchSize <= 0 {
		return errors.Newf("batch size must be positive, got %d", tracker.BatchSize).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if tracker.SweepEvery <= 0 {
		return errors.Newf("sweep cycle count must be positive, got %d", tracker.SweepEvery).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	return nil
}

func validateOutputSettings(output *OutputSettings) error {
	if !output.SQLite.Enabled && !output.MySQL.Enabled {
		return errors.Newf("no database output enabled, enable either sqlite or mysql").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if output.SQLite.Enabled && output.SQLite.Path == "" {
		return errors.Newf("sqlite output enabled but no path configured").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if output.MySQL.Enabled {
		if output.MySQL.Host == "" || output.MySQL.Database == "" {
			return errors.Newf("mysql output enabled but host or database missing").
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}

	return nil
}
