package radar

import (
	"time"

	"github.com/skyspy/flightradar-go/internal/conf"
	"github.com/skyspy/flightradar-go/internal/errors"
)

// NewService creates the feed adapter selected by the radar configuration.
func NewService(settings *conf.RadarSettings) (Service, error) {
	timeout := time.Duration(settings.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	switch settings.Type {
	case "mm2":
		return NewModeSMixer(settings.URL, timeout)
	case "vrs":
		return NewVirtualRadar(settings.URL, timeout)
	case "dmp1090":
		return NewDump1090(settings.URL, timeout)
	default:
		return nil, errors.Newf("invalid radar service type: %q", settings.Type).
			Component("radar").
			Category(errors.CategoryConfiguration).
			Context("type", settings.Type).
			Build()
	}
}
