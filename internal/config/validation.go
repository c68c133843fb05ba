package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if cfg.BlobStore.Type == "s3" && (cfg.BlobStore.S3AccessKey == "") != (cfg.BlobStore.S3SecretKey == "") {
		return fmt.Errorf("blob_store: s3_access_key and s3_secret_key must be set together")
	}
	return nil
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("invalid config: %s failed on %q (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return fmt.Errorf("invalid config: %w", err)
}
