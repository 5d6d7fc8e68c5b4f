package awsclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dev-tams/cloudsweep/internal/config"
)

func TestLoadRejectsHalfStaticCredentials(t *testing.T) {
	_, err := Load(context.Background(), config.AWSConfig{Region: "us-east-1", AccessKey: "AKIAEXAMPLE"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "must be set together")
}

func TestLoadWithStaticCredentials(t *testing.T) {
	cfg, err := Load(context.Background(), config.AWSConfig{
		Region:    "eu-west-1",
		AccessKey: "AKIAEXAMPLE",
		SecretKey: "secret",
	})
	require.NoError(t, err)
	require.Equal(t, "eu-west-1", cfg.Region)

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AKIAEXAMPLE", creds.AccessKeyID)

	c := NewClients(cfg)
	require.NotNil(t, c.S3)
	require.NotNil(t, c.SecurityHub)
}
