package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AWS           AWSConfig            `mapstructure:"aws"`
	Buckets       BucketsConfig        `mapstructure:"buckets"`
	Secrets       SecretsConfig        `mapstructure:"secrets"`
	Tables        TablesConfig         `mapstructure:"tables"`
	Report        ReportConfig         `mapstructure:"report"`
	Notifications []NotificationConfig `mapstructure:"notifications"`
}

type AWSConfig struct {
	Region       string `mapstructure:"region"`
	Profile      string `mapstructure:"profile"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	SessionToken string `mapstructure:"session_token"`
}

type BucketsConfig struct {
	PageSize  int32         `mapstructure:"page_size"`
	StackWait time.Duration `mapstructure:"stack_wait"`
	StackTag  string        `mapstructure:"stack_tag"`
}

type SecretsConfig struct {
	NamePattern  string        `mapstructure:"name_pattern"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	RecoveryDays int           `mapstructure:"recovery_days"`
}

type TablesConfig struct {
	Wait time.Duration `mapstructure:"wait"`
}

type ReportConfig struct {
	AggregatorName string   `mapstructure:"aggregator_name"`
	InputFile      string   `mapstructure:"input_file"`
	OutputFile     string   `mapstructure:"output_file"`
	FindingsFile   string   `mapstructure:"findings_file"`
	OutputDir      string   `mapstructure:"output_dir"`
	Storage        string   `mapstructure:"storage"`
	S3             S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

type NotificationConfig struct {
	Type string   `mapstructure:"type"`
	On   []string `mapstructure:"on"`
	// Commands limits the route to these commands; empty means every command.
	Commands []string            `mapstructure:"commands"`
	Config   NotificationDetails `mapstructure:"config"`
}

type NotificationDetails struct {
	SMTPHost string            `mapstructure:"smtp_host"`
	SMTPPort int               `mapstructure:"smtp_port"`
	From     string            `mapstructure:"from"`
	To       string            `mapstructure:"to"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	URL      string            `mapstructure:"url"`
	Headers  map[string]string `mapstructure:"headers"`
}

const (
	MaxPageSize         = 1000
	DefaultRecoveryDays = 7
	DeleteMeSuffix      = "-delete-me"

	// DefaultSecretNamePattern is the Secrets Manager name alphabet, so it
	// admits every valid secret name.
	DefaultSecretNamePattern = `^[A-Za-z0-9/_+=.@-]+$`
)

var defaults = map[string]any{
	"aws.region":             "",
	"aws.profile":            "",
	"aws.access_key":         "",
	"aws.secret_key":         "",
	"aws.session_token":      "",
	"buckets.page_size":      MaxPageSize,
	"buckets.stack_wait":     "5m",
	"buckets.stack_tag":      "aws:cloudformation:stack-name",
	"secrets.name_pattern":   DefaultSecretNamePattern,
	"secrets.stale_after":    "4320h",
	"secrets.max_retries":    3,
	"secrets.retry_delay":    "2s",
	"secrets.recovery_days":  DefaultRecoveryDays,
	"tables.wait":            "5m",
	"report.aggregator_name": "organization-aggregator",
	"report.input_file":      "input/config-rules.xlsx",
	"report.output_file":     "compliance-report.xlsx",
	"report.findings_file":   "security-hub-findings.xlsx",
	"report.output_dir":      "output",
	"report.storage":         "local",
	"report.s3.bucket":       "",
	"report.s3.prefix":       "",
}

// Plain env names the report jobs have always read.
var envAliases = map[string][]string{
	"aws.region":             {"AWS_REGION", "AWS_DEFAULT_REGION"},
	"aws.profile":            {"AWS_PROFILE"},
	"report.aggregator_name": {"AGGREGATOR_NAME"},
	"report.input_file":      {"INPUT_FILE"},
	"report.output_file":     {"OUTPUT_FILE"},
	"report.findings_file":   {"FINDINGS_OUTPUT_FILE"},
	"report.output_dir":      {"OUTPUT_DIR"},
}

// LoadConfig reads defaults, then the optional file at path, then the environment.
// Any key is also settable as CLOUDSWEEP_<SECTION>_<KEY>.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	v.SetEnvPrefix("CLOUDSWEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, names := range envAliases {
		// the prefixed name keeps precedence over the aliases
		input := append([]string{k, envName(k)}, names...)
		if err := v.BindEnv(input...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", k, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ExpandEnv(&cfg)

	return &cfg, nil
}

func envName(key string) string {
	return "CLOUDSWEEP_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// ExpandEnv resolves ${VAR} references in string fields that commonly carry
// credentials or destinations.
func ExpandEnv(cfg *Config) {
	cfg.AWS.Region = os.ExpandEnv(cfg.AWS.Region)
	cfg.AWS.Profile = os.ExpandEnv(cfg.AWS.Profile)
	cfg.AWS.AccessKey = os.ExpandEnv(cfg.AWS.AccessKey)
	cfg.AWS.SecretKey = os.ExpandEnv(cfg.AWS.SecretKey)
	cfg.AWS.SessionToken = os.ExpandEnv(cfg.AWS.SessionToken)

	cfg.Report.AggregatorName = os.ExpandEnv(cfg.Report.AggregatorName)
	cfg.Report.InputFile = os.ExpandEnv(cfg.Report.InputFile)
	cfg.Report.OutputFile = os.ExpandEnv(cfg.Report.OutputFile)
	cfg.Report.FindingsFile = os.ExpandEnv(cfg.Report.FindingsFile)
	cfg.Report.OutputDir = os.ExpandEnv(cfg.Report.OutputDir)
	cfg.Report.S3.Bucket = os.ExpandEnv(cfg.Report.S3.Bucket)
	cfg.Report.S3.Prefix = os.ExpandEnv(cfg.Report.S3.Prefix)

	for i := range cfg.Notifications {
		nt := &cfg.Notifications[i]
		nt.Type = os.ExpandEnv(nt.Type)
		for j := range nt.On {
			nt.On[j] = os.ExpandEnv(nt.On[j])
		}
		for j := range nt.Commands {
			nt.Commands[j] = os.ExpandEnv(nt.Commands[j])
		}
		nt.Config.SMTPHost = os.ExpandEnv(nt.Config.SMTPHost)
		nt.Config.From = os.ExpandEnv(nt.Config.From)
		nt.Config.To = os.ExpandEnv(nt.Config.To)
		nt.Config.Username = os.ExpandEnv(nt.Config.Username)
		nt.Config.Password = os.ExpandEnv(nt.Config.Password)
		nt.Config.URL = os.ExpandEnv(nt.Config.URL)
		for k, val := range nt.Config.Headers {
			nt.Config.Headers[k] = os.ExpandEnv(val)
		}
	}
}
