// Package courierconf builds the courier client and token manager from configuration.
package courierconf

import (
	"github.com/BearBump/BoiPrint/config"
	"github.com/BearBump/BoiPrint/internal/integrations/courier"
	"github.com/BearBump/BoiPrint/internal/integrations/courier/fake"
	"github.com/BearBump/BoiPrint/internal/integrations/courier/pathao"
	"github.com/BearBump/BoiPrint/internal/integrations/courier/session"
)

// Client returns the in-process fake when mode is "fake", the Pathao HTTP client otherwise.
func Client(cfg config.PathaoConfig) courier.Client {
	if cfg.UseFake() {
		return fake.New()
	}
	return pathao.New(cfg.BaseURL,
		pathao.WithTimeout(cfg.Timeout()),
		pathao.WithCreateOrderTimeout(cfg.CreateOrderTimeout()),
		pathao.WithRateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
	)
}

func TokenRequest(cfg config.PathaoConfig) courier.TokenRequest {
	return courier.TokenRequest{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		GrantType:    cfg.Grant(),
		Username:     cfg.Username,
		Password:     cfg.Password,
	}
}

func Session(c courier.Client, cfg config.PathaoConfig) *session.Manager {
	opts := []session.Option{session.WithTimeout(cfg.Timeout())}
	// 0 means unset here; the manager keeps its 60s default.
	if m := cfg.SafetyMargin(); m > 0 {
		opts = append(opts, session.WithSafetyMargin(m))
	}
	return session.New(c, TokenRequest(cfg), opts...)
}
