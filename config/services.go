package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP admin API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeReaper runs history, audit and delivery-record cleanup.
	ServiceModeReaper ServiceMode = "reaper"
	// ServiceModeWebhooks runs the background webhook delivery loop.
	ServiceModeWebhooks ServiceMode = "webhooks"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeReaper, ServiceModeWebhooks}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if strings.TrimSpace(servicesStr) == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeReaper, ServiceModeWebhooks:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, reaper, webhooks)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// ReaperConfig contains maintenance loop configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// DeliveryRecordMaxAge is the age after which webhook delivery records are pruned.
	DeliveryRecordMaxAge time.Duration `env:"REAPER_DELIVERY_RECORD_MAX_AGE" envDefault:"24h"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 5*time.Second {
		r.Interval = 5 * time.Second
	}
	if r.DeliveryRecordMaxAge < time.Minute {
		r.DeliveryRecordMaxAge = time.Minute
	}
}
