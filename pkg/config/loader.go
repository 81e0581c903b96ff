package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Validator is implemented by configuration structs that check their own
// invariants after environment parsing.
type Validator interface {
	Validate() error
}

// Load parses environment variables into cfg using `env` struct tags and, when
// cfg implements Validator, validates the result.
//
//	type Config struct {
//	    Port     int    `env:"REVIEW_HTTP_PORT" envDefault:"8020"`
//	    LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
	}
	return nil
}
