package storage

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/dev-tams/cloudsweep/internal/config"
	"github.com/dev-tams/cloudsweep/internal/storage/local"
	s3store "github.com/dev-tams/cloudsweep/internal/storage/s3"
)

// FromConfig builds the report destination named by report.storage. fs backs
// the local store; client is only used for s3.
func FromConfig(cfg config.ReportConfig, fs afero.Fs, client s3store.PutAPI) (Storage, error) {
	switch cfg.Storage {
	case "", "local":
		if cfg.OutputDir == "" {
			return nil, fmt.Errorf("storage local: report.output_dir is required")
		}
		return local.New("local", cfg.OutputDir, fs), nil

	case "s3":
		s, err := s3store.New(s3store.Options{
			Name:   "s3",
			Bucket: cfg.S3.Bucket,
			Prefix: cfg.S3.Prefix,
		}, client)
		if err != nil {
			return nil, fmt.Errorf("storage s3: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("storage: unknown type %q", cfg.Storage)
	}
}
