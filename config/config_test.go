package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joeycumines/go-sitemigrate/replace"
	"github.com/joeycumines/go-sitemigrate/sql/export"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_defaults(t *testing.T) {
	c, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, &Config{
		Driver:          DriverMySQL,
		BackupDir:       `backups`,
		LogLevel:        `info`,
		LogFormat:       `text`,
		Listen:          `127.0.0.1:8080`,
		ReceiveDir:      `received`,
		ChunkSize:       1000,
		ImportBatchSize: 100,
		ValidateSample:  100,
		RateLimit:       60,
		Backup:          true,
		Remote: Remote{
			Timeout: 10 * time.Minute,
			Retries: 5,
		},
	}, c)
}

func TestLoad_env(t *testing.T) {
	t.Setenv(`SITEMIGRATE_DRIVER`, `sqlite3`)
	t.Setenv(`SITEMIGRATE_CHUNK_SIZE`, `250`)
	t.Setenv(`SITEMIGRATE_TABLES`, `wp_posts site.wp_options`)
	t.Setenv(`SITEMIGRATE_REMOTE_TIMEOUT`, `30s`)
	t.Setenv(`SITEMIGRATE_CONTINUE_ON_ERROR`, `true`)

	c, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, c.Driver)
	assert.Equal(t, 250, c.ChunkSize)
	assert.Equal(t, []export.Table{{Name: `wp_posts`}, {Schema: `site`, Name: `wp_options`}}, c.Tables)
	assert.Equal(t, 30*time.Second, c.Remote.Timeout)
	assert.True(t, c.ContinueOnError)
}

func TestLoad_file(t *testing.T) {
	file := filepath.Join(t.TempDir(), `sitemigrate.yaml`)
	require.NoError(t, os.WriteFile(file, []byte(`driver: sqlite3
dsn: /tmp/site.db
exclude:
  - wp_users
  - wp_usermeta
replace:
  - http://old.example.com=https://new.example.com
  - /var/www/old=/srv/new
repair-serialized: true
import-batch-size: -1
`), 0o600))

	// flags take precedence over the file
	flags := pflag.NewFlagSet(`test`, pflag.ContinueOnError)
	Flags(flags)
	require.NoError(t, flags.Parse([]string{`--config`, file, `--dsn`, `/tmp/other.db`}))

	v := New()
	require.NoError(t, v.BindPFlags(flags))

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, c.Driver)
	assert.Equal(t, `/tmp/other.db`, c.DSN)
	assert.Equal(t, []export.Table{{Name: `wp_users`}, {Name: `wp_usermeta`}}, c.Exclude)
	assert.Equal(t, replace.Map{
		{Find: `http://old.example.com`, Replace: `https://new.example.com`},
		{Find: `/var/www/old`, Replace: `/srv/new`},
	}, c.Replace)
	assert.True(t, c.RepairSerialized)
	assert.Equal(t, -1, c.ImportBatchSize)
	assert.Equal(t, 1000, c.ChunkSize)
}

func TestLoad_invalid(t *testing.T) {
	for _, tc := range [...]struct {
		Name  string
		Key   string
		Value any
	}{
		{`driver`, KeyDriver, `postgres`},
		{`chunk size`, KeyChunkSize, 0},
		{`negative chunk size`, KeyChunkSize, -1},
		{`rate limit`, KeyRateLimit, -1},
		{`timeout`, KeyRemoteTimeout, `0s`},
		{`retries`, KeyRemoteRetries, -1},
		{`replace without separator`, KeyReplace, []string{`nope`}},
		{`replace empty find`, KeyReplace, []string{`=x`}},
		{`table`, KeyTables, []string{`a.b.c`}},
		{`missing file`, KeyConfig, `/does/not/exist.yaml`},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			v := New()
			v.Set(tc.Key, tc.Value)
			c, err := Load(v)
			assert.Error(t, err)
			assert.Nil(t, c)
		})
	}
}

func TestLoadEnv(t *testing.T) {
	// registers cleanup, restoring the unset state
	t.Setenv(`SITEMIGRATE_DSN`, ``)
	require.NoError(t, os.Unsetenv(`SITEMIGRATE_DSN`))
	t.Setenv(`SITEMIGRATE_LOG_LEVEL`, `warn`)

	dir := t.TempDir()
	file := filepath.Join(dir, `.env`)
	require.NoError(t, os.WriteFile(file, []byte("SITEMIGRATE_DSN=user:pass@tcp(db:3306)/wordpress\nSITEMIGRATE_LOG_LEVEL=debug\n"), 0o600))

	require.NoError(t, LoadEnv(file, filepath.Join(dir, `.env.local`)))

	c, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, `user:pass@tcp(db:3306)/wordpress`, c.DSN)
	// existing variables are not overridden
	assert.Equal(t, `warn`, c.LogLevel)
}
