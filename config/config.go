package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/clientmail/correlate"
	"github.com/dhcgn/clientmail/filter"
	"github.com/dhcgn/clientmail/imap"
)

// Logging holds the flags shared by every command.
type Logging struct {
	Level string
	Dir   string
}

// Config captures all command-line options of a correlation run.
type Config struct {
	Logging
	DirectoryPath      string
	InboundPath        string
	OutboundPath       string
	Policy             correlate.Policy
	Eager              bool
	Shards             int
	Workers            int
	OutputDir          string
	Dedup              bool
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	InboundFolder      string
	OutboundFolder     string
	FetchLimit         int
	IncludeSubject     []string
	IncludeBody        []string
	ExcludeSubject     []string
	ExcludeBody        []string
}

// UsesIMAP reports whether mail is fetched from a server instead of files.
func (c Config) UsesIMAP() bool {
	return c.IMAPHost != ""
}

// FilterOptions returns the subject/body filter settings.
func (c Config) FilterOptions() filter.Options {
	return filter.Options{
		IncludeSubject: c.IncludeSubject,
		IncludeBody:    c.IncludeBody,
		ExcludeSubject: c.ExcludeSubject,
		ExcludeBody:    c.ExcludeBody,
	}
}

// IMAPOptions returns the fetcher settings.
func (c Config) IMAPOptions() imap.Options {
	return imap.Options{
		Host:               c.IMAPHost,
		Port:               c.IMAPPort,
		Username:           c.IMAPUser,
		Password:           c.IMAPPass,
		UseTLS:             c.UseTLS,
		InsecureSkipVerify: c.InsecureSkipVerify,
		InboundFolder:      c.InboundFolder,
		OutboundFolder:     c.OutboundFolder,
		Limit:              c.FetchLimit,
	}
}

// RegisterPersistentFlags attaches the flags every sub-command inherits.
func RegisterPersistentFlags(cmd *cobra.Command) error {
	defaultDirectory, err := defaultDirectoryPath()
	if err != nil {
		return err
	}

	flags := cmd.PersistentFlags()
	flags.String("directory", defaultDirectory, "Client directory: .yaml/.yml file or .db SQLite database")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (empty logs to stdout only)")
	return nil
}

// RegisterFlags attaches the correlation run flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	if err := RegisterPersistentFlags(cmd); err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("inbound", "", "Inbound mail (.mbox or .json), messages sent by clients")
	flags.String("outbound", "", "Outbound mail (.mbox or .json), messages sent to clients")
	flags.String("policy", string(correlate.PolicyExact), "Address match policy: exact, fallback, broad")
	flags.Bool("eager", false, "Create a package for every client before matching")
	flags.Int("shards", 1, "Number of chunks the message lists are split into")
	flags.Int("workers", 0, "Shards processed in parallel (0 = number of CPUs)")
	flags.String("output", "", "Directory for per-client JSON files (empty writes to stdout)")
	flags.Bool("dedup", true, "Remove near-duplicate messages from the correspondence list")
	flags.String("imap-host", "", "IMAP server hostname (instead of --inbound/--outbound)")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("inbound-folder", "INBOX", "IMAP folder holding inbound mail")
	flags.String("outbound-folder", "Sent", "IMAP folder holding outbound mail")
	flags.Int("fetch-limit", 0, "Fetch only the newest N messages per IMAP folder (0 = all)")
	flags.StringArray("include-subject", nil, "Regex allow-list applied to subjects (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to normalized bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-subject", nil, "Regex block-list applied to subjects (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to normalized bodies (mutually exclusive with include flags)")

	return nil
}

// LoadLogging reads the shared logging flags.
func LoadLogging(cmd *cobra.Command) (Logging, error) {
	flags := cmd.Flags()

	level, err := flags.GetString("log-level")
	if err != nil {
		return Logging{}, err
	}
	dir, err := flags.GetString("log-dir")
	if err != nil {
		return Logging{}, err
	}

	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	logging := Logging{Level: level, Dir: strings.TrimSpace(dir)}
	if err := validateLogging(logging); err != nil {
		return Logging{}, err
	}
	return logging, nil
}

// LoadDirectoryPath reads --directory.
func LoadDirectoryPath(cmd *cobra.Command) (string, error) {
	path, err := cmd.Flags().GetString("directory")
	if err != nil {
		return "", err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("--directory is required")
	}
	return filepath.Clean(path), nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	logging, err := LoadLogging(cmd)
	if err != nil {
		return Config{}, err
	}
	directoryPath, err := LoadDirectoryPath(cmd)
	if err != nil {
		return Config{}, err
	}
	inbound, err := flags.GetString("inbound")
	if err != nil {
		return Config{}, err
	}
	outbound, err := flags.GetString("outbound")
	if err != nil {
		return Config{}, err
	}
	policyName, err := flags.GetString("policy")
	if err != nil {
		return Config{}, err
	}
	eager, err := flags.GetBool("eager")
	if err != nil {
		return Config{}, err
	}
	shards, err := flags.GetInt("shards")
	if err != nil {
		return Config{}, err
	}
	workers, err := flags.GetInt("workers")
	if err != nil {
		return Config{}, err
	}
	outputDir, err := flags.GetString("output")
	if err != nil {
		return Config{}, err
	}
	dedup, err := flags.GetBool("dedup")
	if err != nil {
		return Config{}, err
	}
	imapHost, err := flags.GetString("imap-host")
	if err != nil {
		return Config{}, err
	}
	imapPort, err := flags.GetInt("imap-port")
	if err != nil {
		return Config{}, err
	}
	imapUser, err := flags.GetString("imap-user")
	if err != nil {
		return Config{}, err
	}
	imapPass, err := flags.GetString("imap-pass")
	if err != nil {
		return Config{}, err
	}
	useTLS, err := flags.GetBool("use-tls")
	if err != nil {
		return Config{}, err
	}
	insecureSkipVerify, err := flags.GetBool("insecure-skip-verify")
	if err != nil {
		return Config{}, err
	}
	inboundFolder, err := flags.GetString("inbound-folder")
	if err != nil {
		return Config{}, err
	}
	outboundFolder, err := flags.GetString("outbound-folder")
	if err != nil {
		return Config{}, err
	}
	fetchLimit, err := flags.GetInt("fetch-limit")
	if err != nil {
		return Config{}, err
	}
	includeSubject, err := flags.GetStringArray("include-subject")
	if err != nil {
		return Config{}, err
	}
	includeBody, err := flags.GetStringArray("include-body")
	if err != nil {
		return Config{}, err
	}
	excludeSubject, err := flags.GetStringArray("exclude-subject")
	if err != nil {
		return Config{}, err
	}
	excludeBody, err := flags.GetStringArray("exclude-body")
	if err != nil {
		return Config{}, err
	}

	policy, err := correlate.ParsePolicy(policyName)
	if err != nil {
		return Config{}, fmt.Errorf("--policy: %w", err)
	}

	imapHost = strings.TrimSpace(imapHost)
	if imapHost != "" && imapPass == "" {
		imapPass = os.Getenv("IMAP_PASS")
	}

	cfg := Config{
		Logging:            logging,
		DirectoryPath:      directoryPath,
		InboundPath:        strings.TrimSpace(inbound),
		OutboundPath:       strings.TrimSpace(outbound),
		Policy:             policy,
		Eager:              eager,
		Shards:             shards,
		Workers:            workers,
		OutputDir:          strings.TrimSpace(outputDir),
		Dedup:              dedup,
		IMAPHost:           imapHost,
		IMAPPort:           imapPort,
		IMAPUser:           imapUser,
		IMAPPass:           imapPass,
		UseTLS:             useTLS,
		InsecureSkipVerify: insecureSkipVerify,
		InboundFolder:      inboundFolder,
		OutboundFolder:     outboundFolder,
		FetchLimit:         fetchLimit,
		IncludeSubject:     includeSubject,
		IncludeBody:        includeBody,
		ExcludeSubject:     excludeSubject,
		ExcludeBody:        excludeBody,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	filesGiven := cfg.InboundPath != "" || cfg.OutboundPath != ""
	switch {
	case cfg.UsesIMAP() && filesGiven:
		return fmt.Errorf("--imap-host cannot be combined with --inbound/--outbound")
	case cfg.UsesIMAP():
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
		if cfg.FetchLimit < 0 {
			return fmt.Errorf("--fetch-limit must not be negative")
		}
	default:
		if cfg.InboundPath == "" || cfg.OutboundPath == "" {
			return fmt.Errorf("--inbound and --outbound are required unless --imap-host is set")
		}
	}

	if cfg.Shards < 1 {
		return fmt.Errorf("--shards must be at least 1")
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("--workers must not be negative")
	}

	includeActive := len(cfg.IncludeSubject) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeSubject) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	return validateLogging(cfg.Logging)
}

func validateLogging(l Logging) error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", l.Level)
	}
	return nil
}

func defaultDirectoryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".clientmail", "clients.yaml"), nil
}
