package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/dev-tams/cloudsweep/internal/app"
	"github.com/dev-tams/cloudsweep/internal/awsclient"
	"github.com/dev-tams/cloudsweep/internal/config"
	"github.com/dev-tams/cloudsweep/internal/logctx"
	"github.com/dev-tams/cloudsweep/internal/storage"
	"github.com/dev-tams/cloudsweep/internal/webacl"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newApp builds the command tree. Argument count mistakes exit with status 1;
// resources left behind by a run do not change the exit status.
func newApp() *cli.App {
	return &cli.App{
		Name:  "cloudsweep",
		Usage: "clean up AWS resources and export compliance reports",
		Commands: []*cli.Command{
			{
				Name:      "buckets",
				Usage:     "empty and delete S3 buckets, removing their CloudFormation stacks first",
				ArgsUsage: "<bucket[,bucket...]>",
				Flags:     commonFlags(),
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return usageError(c)
					}
					return withEnv(c, func(ctx context.Context, cfg *config.Config, clients *awsclient.Clients) error {
						return app.RunBuckets(ctx, cfg, app.BucketDeps{
							S3:             clients.S3,
							CloudFormation: clients.CloudFormation,
						}, app.SplitNames(c.Args().First()), c.Bool("verbose"))
					})
				},
			},
			{
				Name:      "secrets",
				Usage:     "copy stale secrets to <name>-delete-me and schedule the originals for deletion",
				ArgsUsage: "<secret[,secret...]> [days]",
				Flags:     commonFlags(),
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 || c.NArg() > 2 {
						return usageError(c)
					}
					return withEnv(c, func(ctx context.Context, cfg *config.Config, clients *awsclient.Clients) error {
						days := cfg.Secrets.RecoveryDays
						if c.NArg() == 2 {
							n, err := strconv.Atoi(c.Args().Get(1))
							if err != nil {
								return fmt.Errorf("days must be an integer: %w", err)
							}
							days = n
						}
						_, err := app.RunSecrets(ctx, cfg, clients.SecretsManager, app.SplitNames(c.Args().First()), days, c.Bool("verbose"))
						return err
					})
				},
			},
			{
				Name:      "tables",
				Usage:     "delete DynamoDB tables, lifting deletion protection",
				ArgsUsage: "<table[,table...]>",
				Flags:     commonFlags(),
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return usageError(c)
					}
					return withEnv(c, func(ctx context.Context, cfg *config.Config, clients *awsclient.Clients) error {
						_, err := app.RunTables(ctx, cfg, clients.DynamoDB, nil, app.SplitNames(c.Args().First()), c.Bool("verbose"))
						return err
					})
				},
			},
			{
				Name:      "webacls",
				Usage:     "detach and delete WAFv2 web ACLs",
				ArgsUsage: "<name[,name...]>",
				Flags: append(commonFlags(), &cli.StringFlag{
					Name:  "scope",
					Value: "REGIONAL",
					Usage: "REGIONAL or CLOUDFRONT",
				}),
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return usageError(c)
					}
					scope, err := webacl.ParseScope(c.String("scope"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return withEnv(c, func(ctx context.Context, cfg *config.Config, clients *awsclient.Clients) error {
						_, err := app.RunWebACLs(ctx, cfg, clients.WAFv2, scope, app.SplitNames(c.Args().First()), c.Bool("verbose"))
						return err
					})
				},
			},
			{
				Name:  "report",
				Usage: "write Excel reports from AWS Config and Security Hub",
				Subcommands: []*cli.Command{
					{
						Name:  "compliance",
						Usage: "non-compliant Config rules across the organization aggregator",
						Flags: commonFlags(),
						Action: func(c *cli.Context) error {
							if c.NArg() != 0 {
								return usageError(c)
							}
							return withEnv(c, func(ctx context.Context, cfg *config.Config, clients *awsclient.Clients) error {
								fs := afero.NewOsFs()
								st, err := storage.FromConfig(cfg.Report, fs, clients.S3)
								if err != nil {
									return err
								}
								_, err = app.RunComplianceReport(ctx, cfg, fs, clients.ConfigService, st, c.Bool("verbose"))
								return err
							})
						},
					},
					{
						Name:  "findings",
						Usage: "active failed Security Hub findings",
						Flags: commonFlags(),
						Action: func(c *cli.Context) error {
							if c.NArg() != 0 {
								return usageError(c)
							}
							return withEnv(c, func(ctx context.Context, cfg *config.Config, clients *awsclient.Clients) error {
								st, err := storage.FromConfig(cfg.Report, afero.NewOsFs(), clients.S3)
								if err != nil {
									return err
								}
								_, err = app.RunFindingsReport(ctx, cfg, clients.SecurityHub, st, c.Bool("verbose"))
								return err
							})
						},
					},
				},
			},
		},
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to config yaml (optional; defaults and environment apply without it)",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "also write JSON logs to this file",
		},
	}
}

// usageError reports a wrong argument count. HelpName carries the full command
// path, including the parent of a report subcommand.
func usageError(c *cli.Context) error {
	return cli.Exit(strings.TrimSpace("usage: "+c.Command.HelpName+" "+c.Command.ArgsUsage), 1)
}

// withEnv loads configuration, the logger and AWS clients, then runs fn.
func withEnv(c *cli.Context, fn func(ctx context.Context, cfg *config.Config, clients *awsclient.Clients) error) error {
	cfg, err := loadValidatedConfig(c.String("config"))
	if err != nil {
		return err
	}

	var extra io.Writer
	if path := c.String("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		extra = f
	}
	ctx := logctx.WithLogger(c.Context, logctx.New(c.Bool("verbose"), extra))

	awsCfg, err := awsclient.Load(ctx, cfg.AWS)
	if err != nil {
		return err
	}
	return fn(ctx, cfg, awsclient.NewClients(awsCfg))
}

func loadValidatedConfig(cfgPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
