package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Validate checks ranges and cross-field requirements after loading.
func (c *Config) Validate() error {
	if c.Buckets.PageSize <= 0 || c.Buckets.PageSize > MaxPageSize {
		return fmt.Errorf("buckets.page_size must be between 1 and %d", MaxPageSize)
	}
	if c.Buckets.StackWait <= 0 {
		return fmt.Errorf("buckets.stack_wait must be > 0")
	}
	if strings.TrimSpace(c.Buckets.StackTag) == "" {
		return fmt.Errorf("buckets.stack_tag is required")
	}

	if _, err := regexp.Compile(c.Secrets.NamePattern); err != nil {
		return fmt.Errorf("secrets.name_pattern: %w", err)
	}
	if c.Secrets.StaleAfter <= 0 {
		return fmt.Errorf("secrets.stale_after must be > 0")
	}
	if c.Secrets.MaxRetries < 0 {
		return fmt.Errorf("secrets.max_retries must be >= 0")
	}
	if c.Secrets.RetryDelay < 0 {
		return fmt.Errorf("secrets.retry_delay must be >= 0")
	}
	if err := ValidateRecoveryDays(c.Secrets.RecoveryDays); err != nil {
		return fmt.Errorf("secrets.recovery_days: %w", err)
	}

	if c.Tables.Wait <= 0 {
		return fmt.Errorf("tables.wait must be > 0")
	}

	switch c.Report.Storage {
	case "local":
		if c.Report.OutputDir == "" {
			return fmt.Errorf("report.output_dir is required for local storage")
		}
	case "s3":
		if c.Report.S3.Bucket == "" {
			return fmt.Errorf("report.s3.bucket is required when report.storage=s3")
		}
	default:
		return fmt.Errorf("report.storage=%q must be local or s3", c.Report.Storage)
	}
	if c.Report.OutputFile == "" || c.Report.FindingsFile == "" {
		return fmt.Errorf("report.output_file and report.findings_file are required")
	}

	for i, n := range c.Notifications {
		if strings.TrimSpace(n.Type) == "" {
			return fmt.Errorf("notifications[%d].type is required", i)
		}
	}
	return nil
}

// ValidateRecoveryDays enforces the Secrets Manager recovery window bounds.
func ValidateRecoveryDays(days int) error {
	if days < 7 || days > 30 {
		return fmt.Errorf("recovery window must be between 7 and 30 days, got %d", days)
	}
	return nil
}
