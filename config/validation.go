package config

import (
	"fmt"

	apperrors "github.com/grovetools/slidesync/errors"
	"github.com/grovetools/slidesync/schema"
)

// Validate checks a merged document, first structurally against the
// generated schema and then against the value ranges the processes rely on.
// Failures are returned as CONFIG_VALIDATION errors naming the field.
func Validate(doc map[string]interface{}) error {
	v, err := structuralValidator()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to build config schema")
	}
	if err := v.Validate(doc); err != nil {
		if schemaErr, ok := err.(*schema.Error); ok {
			first := schemaErr.First()
			return apperrors.ValidationFailed(first.Field, "valid ("+first.Message+")").WithDetail("schema", schemaErr.Error())
		}
		return apperrors.Wrap(err, apperrors.ErrCodeConfigValidation, "schema validation failed")
	}

	cfg, err := decode(doc)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigValidation, "config does not decode")
	}
	return validateRanges(&cfg)
}

func validateRanges(cfg *Config) error {
	checks := []struct {
		ok         bool
		field      string
		constraint string
	}{
		{cfg.SlideshowInterval >= 1000, "slideshowInterval", "at least 1000"},
		{cfg.ReshuffleInterval >= 0, "reshuffleInterval", "at least 0"},
		{cfg.Preprocessing.Quality >= 1 && cfg.Preprocessing.Quality <= 100, "preprocessing.quality", "between 1 and 100"},
		{cfg.Preprocessing.TargetWidth > 0, "preprocessing.targetWidth", "greater than 0"},
		{cfg.Preprocessing.TargetHeight > 0, "preprocessing.targetHeight", "greater than 0"},
		{cfg.Preprocessing.Workers >= 0, "preprocessing.workers", "at least 0"},
		{cfg.Port >= 0 && cfg.Port <= 65535, "port", "between 0 and 65535"},
	}
	for _, c := range checks {
		if !c.ok {
			return apperrors.ValidationFailed(c.field, c.constraint)
		}
	}

	if cfg.HTTPS.Enabled && (cfg.HTTPS.Cert == "" || cfg.HTTPS.Key == "") {
		return apperrors.ValidationFailed("https", "given cert and key when enabled")
	}
	for i, ext := range cfg.ImageExtensions {
		if len(ext) < 2 || ext[0] != '.' {
			return apperrors.ValidationFailed(fmt.Sprintf("imageExtensions[%d]", i), "an extension with a leading dot")
		}
	}
	return nil
}
