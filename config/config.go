// Package config loads the settings shared by the sitemigrate commands, from (in order of precedence) flags,
// environment variables (prefixed with SITEMIGRATE_, including those from .env files), an optional config file,
// and defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joeycumines/go-sitemigrate/replace"
	"github.com/joeycumines/go-sitemigrate/sql/export"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = `sitemigrate`

	DriverMySQL  = `mysql`
	DriverSQLite = `sqlite3`
)

// Keys, which are also the flag names.
const (
	KeyConfig           = `config`
	KeyDriver           = `driver`
	KeyDSN              = `dsn`
	KeyChunkSize        = `chunk-size`
	KeyTables           = `tables`
	KeyExclude          = `exclude`
	KeyReplace          = `replace`
	KeyRepairSerialized = `repair-serialized`
	KeyContinueOnError  = `continue-on-error`
	KeyBackup           = `backup`
	KeyBackupDir        = `backup-dir`
	KeyImportBatchSize  = `import-batch-size`
	KeyValidateSample   = `validate-sample`
	KeyLogLevel         = `log-level`
	KeyLogFormat        = `log-format`
	KeyRemoteURL        = `remote-url`
	KeyRemoteToken      = `remote-token`
	KeyRemoteTimeout    = `remote-timeout`
	KeyRemoteRetries    = `remote-retries`
	KeyRateLimit        = `rate-limit`
	KeyListen           = `listen`
	KeyReceiveDir       = `receive-dir`
)

type (
	Config struct {
		Driver string
		DSN    string
		// Tables restricts the export to these tables, if non-empty.
		Tables  []export.Table
		Exclude []export.Table
		Replace replace.Map
		// BackupDir is where backups are written prior to import, if Backup is set.
		BackupDir string
		LogLevel  string
		LogFormat string
		Listen    string
		// ReceiveDir is where the server stores uploaded dumps.
		ReceiveDir       string
		Remote           Remote
		ChunkSize        int
		ImportBatchSize  int
		ValidateSample   int64
		RateLimit        int
		RepairSerialized bool
		ContinueOnError  bool
		Backup           bool
	}

	Remote struct {
		URL   string
		Token string
		// Timeout bounds each attempt.
		Timeout time.Duration
		// Retries is the max number of retries of transient failures.
		Retries int
	}
)

// New returns a viper instance with defaults, and environment variable support, see also Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(`-`, `_`))
	v.AutomaticEnv()
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDriver, DriverMySQL)
	v.SetDefault(KeyChunkSize, export.DefaultBatchSize)
	v.SetDefault(KeyBackup, true)
	v.SetDefault(KeyBackupDir, `backups`)
	v.SetDefault(KeyImportBatchSize, 100)
	v.SetDefault(KeyValidateSample, 100)
	v.SetDefault(KeyLogLevel, `info`)
	v.SetDefault(KeyLogFormat, `text`)
	v.SetDefault(KeyRemoteTimeout, 10*time.Minute)
	v.SetDefault(KeyRemoteRetries, 5)
	v.SetDefault(KeyRateLimit, 60)
	v.SetDefault(KeyListen, `127.0.0.1:8080`)
	v.SetDefault(KeyReceiveDir, `received`)
}

// Flags registers the flags common to all commands, which may be bound using viper.BindPFlags.
func Flags(flags *pflag.FlagSet) {
	flags.String(KeyConfig, ``, `config file (yaml, json, or toml)`)
	flags.String(KeyDriver, DriverMySQL, `database driver (mysql, sqlite3)`)
	flags.String(KeyDSN, ``, `database connection string`)
	flags.Int(KeyChunkSize, export.DefaultBatchSize, `rows per SELECT and INSERT during export`)
	flags.StringSlice(KeyTables, nil, `tables to export (default all)`)
	flags.StringSlice(KeyExclude, nil, `tables to exclude from the export`)
	flags.StringArray(KeyReplace, nil, `replacement formatted like find=replace, may be repeated, applied in order`)
	flags.Bool(KeyRepairSerialized, false, `repair serialized values with incorrect lengths during replacement`)
	flags.Bool(KeyContinueOnError, false, `continue exporting other tables if one fails`)
	flags.Bool(KeyBackup, true, `back up the target prior to import`)
	flags.String(KeyBackupDir, `backups`, `directory for backups`)
	flags.Int(KeyImportBatchSize, 100, `statements per transaction during import (negative disables transactions)`)
	flags.Int64(KeyValidateSample, 100, `rows per table to check for corrupt serialized values after import (negative disables)`)
	flags.String(KeyLogLevel, `info`, `log level (trace, debug, info, warn, error, off)`)
	flags.String(KeyLogFormat, `text`, `log format (text, json)`)
	flags.String(KeyRemoteURL, ``, `base URL of the remote sitemigrate server`)
	flags.String(KeyRemoteToken, ``, `bearer token for the remote`)
	flags.Duration(KeyRemoteTimeout, 10*time.Minute, `timeout of each remote request attempt`)
	flags.Int(KeyRemoteRetries, 5, `max retries of transient remote failures`)
}

// LoadEnv loads .env files into the environment, ignoring files that don't exist. Defaults to ".env" and
// ".env.local". Existing environment variables take precedence.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{`.env`, `.env.local`}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf(`load %s: %w`, file, err)
		}
	}
	return nil
}

// Load reads the config file (if KeyConfig is set), and returns the validated Config.
func Load(v *viper.Viper) (*Config, error) {
	if file := v.GetString(KeyConfig); file != `` {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf(`read config file: %w`, err)
		}
	}

	c := Config{
		Driver:           v.GetString(KeyDriver),
		DSN:              v.GetString(KeyDSN),
		BackupDir:        v.GetString(KeyBackupDir),
		LogLevel:         v.GetString(KeyLogLevel),
		LogFormat:        v.GetString(KeyLogFormat),
		Listen:           v.GetString(KeyListen),
		ReceiveDir:       v.GetString(KeyReceiveDir),
		ChunkSize:        v.GetInt(KeyChunkSize),
		ImportBatchSize:  v.GetInt(KeyImportBatchSize),
		ValidateSample:   v.GetInt64(KeyValidateSample),
		RateLimit:        v.GetInt(KeyRateLimit),
		RepairSerialized: v.GetBool(KeyRepairSerialized),
		ContinueOnError:  v.GetBool(KeyContinueOnError),
		Backup:           v.GetBool(KeyBackup),
		Remote: Remote{
			URL:     v.GetString(KeyRemoteURL),
			Token:   v.GetString(KeyRemoteToken),
			Timeout: v.GetDuration(KeyRemoteTimeout),
			Retries: v.GetInt(KeyRemoteRetries),
		},
	}

	var err error
	if c.Tables, err = export.ParseTables(v.GetStringSlice(KeyTables)); err != nil {
		return nil, err
	}
	if c.Exclude, err = export.ParseTables(v.GetStringSlice(KeyExclude)); err != nil {
		return nil, err
	}
	if pairs := v.GetStringSlice(KeyReplace); len(pairs) != 0 {
		if c.Replace, err = replace.ParseMap(pairs); err != nil {
			return nil, err
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (x *Config) Validate() error {
	switch x.Driver {
	case DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf(`invalid %s: %q`, KeyDriver, x.Driver)
	}
	if x.ChunkSize <= 0 {
		return fmt.Errorf(`invalid %s: %d`, KeyChunkSize, x.ChunkSize)
	}
	if x.RateLimit <= 0 {
		return fmt.Errorf(`invalid %s: %d`, KeyRateLimit, x.RateLimit)
	}
	if x.Remote.Timeout <= 0 {
		return fmt.Errorf(`invalid %s: %s`, KeyRemoteTimeout, x.Remote.Timeout)
	}
	if x.Remote.Retries < 0 {
		return fmt.Errorf(`invalid %s: %d`, KeyRemoteRetries, x.Remote.Retries)
	}
	return x.Replace.Validate()
}
