// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateServer(cfg, errs)
	v.validateSessions(cfg, errs)
	v.validateAssistant(cfg, errs)
	v.validateLogging(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port != 0 {
		if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
			errs.Add("server.port", "must be between 0 and 65535")
		}
	}
	hasCertKey := cfg.Server.TLSCert != "" || cfg.Server.TLSKey != ""
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") && hasCertKey {
		errs.Add("server", "both tls_cert and tls_key must be specified together")
	}
}

func (v *Validator) validateSessions(cfg *Config, errs *ValidationError) {
	if cfg.Sessions.Root == "" {
		errs.Add("sessions.root", "is required")
	}
	if cfg.Sessions.ReapAfter != "" {
		if d, err := time.ParseDuration(cfg.Sessions.ReapAfter); err != nil {
			errs.Add("sessions.reap_after", fmt.Sprintf("invalid duration format: %s", err))
		} else if d < 0 {
			errs.Add("sessions.reap_after", "must be positive")
		}
	}
	if cfg.Sessions.FIFOTimeout != "" {
		if d, err := time.ParseDuration(cfg.Sessions.FIFOTimeout); err != nil {
			errs.Add("sessions.fifo_timeout", fmt.Sprintf("invalid duration format: %s", err))
		} else if d < 0 {
			errs.Add("sessions.fifo_timeout", "must be positive")
		}
	}
}

func (v *Validator) validateAssistant(cfg *Config, errs *ValidationError) {
	if cfg.Assistant.Binary == "" {
		errs.Add("assistant.binary", "is required")
	}

	validMatchModes := map[string]bool{"": true, "any": true, "all": true}
	for i, rule := range cfg.Assistant.NoiseRules {
		prefix := fmt.Sprintf("assistant.noise_rules[%d]", i)
		if len(rule.Patterns) == 0 {
			errs.Add(prefix+".patterns", "must have at least one pattern")
		}
		if !validMatchModes[rule.MatchMode] {
			errs.Add(prefix+".match_mode", fmt.Sprintf("invalid match_mode '%s', must be 'any' or 'all'", rule.MatchMode))
		}
	}
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	if cfg.Logging.Level != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[cfg.Logging.Level] {
			errs.Add("logging.level", fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", cfg.Logging.Level))
		}
	}

	if cfg.Logging.Format != "" {
		validFormats := map[string]bool{
			"json": true,
			"text": true,
		}
		if !validFormats[cfg.Logging.Format] {
			errs.Add("logging.format", fmt.Sprintf("invalid format '%s', must be one of: json, text", cfg.Logging.Format))
		}
	}
}
