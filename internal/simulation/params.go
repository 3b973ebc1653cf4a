package simulation

import (
	"fmt"
	"net/url"
	"simcontroller/internal/apperrors"
	"strings"
)

// Validation limits
const (
	minSphereDiameter = 5e-6 // m
	maxCallbackEvents = 16
)

// DefaultParameters returns the parameters used for any field a client omits.
func DefaultParameters() Parameters {
	return Parameters{
		LaserPower:        150,
		LaserSpeed:        3.0,
		SphereDiameter:    30e-6,
		Phi:               0.7,
		PowderLayerHeight: 60e-6,
	}
}

// Validate checks the geometric and physical constraints. Does not modify p.
func (p Parameters) Validate() error {
	if p.LaserPower <= 0 {
		return apperrors.Validation("laserPower", "laserPower must be positive")
	}
	if p.LaserSpeed <= 0 {
		return apperrors.Validation("laserSpeed", "laserSpeed must be positive")
	}
	if p.SphereDiameter <= minSphereDiameter {
		return apperrors.Validation("sphereDiameter", fmt.Sprintf("sphereDiameter must be greater than %g", minSphereDiameter))
	}
	if p.Phi < 0 || p.Phi >= 1 {
		return apperrors.Validation("phi", "phi must be in [0, 1)")
	}
	if p.PowderLayerHeight < p.SphereDiameter {
		return apperrors.Validation("powderLayerHeight", "powderLayerHeight must be at least sphereDiameter")
	}
	return nil
}

// Validate checks a callback configuration.
func (c *Callback) Validate() error {
	if c == nil {
		return nil
	}
	if err := validateURL(c.URL); err != nil {
		return apperrors.Validation("callback.url", fmt.Sprintf("invalid callback URL: %v", err))
	}
	if len(c.Events) > maxCallbackEvents {
		return apperrors.Validation("callback.events", fmt.Sprintf("callback events exceed maximum of %d", maxCallbackEvents))
	}
	for _, e := range c.Events {
		if !isEventType(e) {
			return apperrors.Validation("callback.events", fmt.Sprintf("unknown event type %q", e))
		}
	}
	return nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
