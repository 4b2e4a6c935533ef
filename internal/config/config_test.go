package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const validFile = `
terminal:
  mid: "0000000012345678"
  tid: "00000001"
  amount: 3500
`

func TestNewLayersFileOverDefaults(t *testing.T) {
	cfg, _, err := New(writeConfig(t, validFile))
	require.NoError(t, err)

	require.Equal(t, "brizzi-terminal", cfg.Application)
	require.Equal(t, "0000000012345678", cfg.Terminal.MID)
	require.Equal(t, "00000001", cfg.Terminal.TID)
	require.Equal(t, uint32(3500), cfg.Terminal.Amount)
	require.Equal(t, "808000", cfg.Terminal.ProcCode)
	require.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	require.False(t, cfg.Kafka.Enabled)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("BRIZZI_TERMINAL__AMOUNT", "100")
	t.Setenv("BRIZZI_TERMINAL__BATCH_NUMBER", "000777")
	t.Setenv("BRIZZI_LOGGER__FORMAT", "logfmt")

	cfg, _, err := New(writeConfig(t, validFile))
	require.NoError(t, err)
	require.Equal(t, uint32(100), cfg.Terminal.Amount)
	require.Equal(t, "000777", cfg.Terminal.BatchNumber)
	require.Equal(t, "logfmt", cfg.Logger.Format)
}

func TestDefaultsAloneAreInvalid(t *testing.T) {
	_, _, err := New("")

	var ve ValidationErrors
	require.True(t, errors.As(err, &ve), "error = %v", err)
	require.Contains(t, ve, "terminal.mid")
	require.Contains(t, ve, "terminal.tid")
	require.Contains(t, ve, "terminal.amount")
}

func TestReadSkipsValidation(t *testing.T) {
	cfg, _, err := Read(writeConfig(t, "journal:\n  path: \"/var/lib/brizzi/journal.db\"\n"))
	require.NoError(t, err)
	require.Equal(t, "/var/lib/brizzi/journal.db", cfg.Journal.Path)
	require.Empty(t, cfg.Terminal.MID)

	require.NoError(t, cfg.ValidateJournal())
	require.Error(t, cfg.Validate())

	cfg.Journal.Path = ""
	var ve ValidationErrors
	require.True(t, errors.As(cfg.ValidateJournal(), &ve))
	require.Equal(t, ValidationErrors{"journal.path": {"cannot be empty"}}, ve)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Application: "brizzi-terminal",
			Logger:      Logger{Level: "info", Format: "json"},
			Terminal:    Terminal{MID: "12345678", TID: "ABCD", Amount: 1},
			Journal:     Journal{Path: "brizzi.db"},
		}
	}

	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"Non Hex MID", func(c *Config) { c.Terminal.MID = "12G4" }, "terminal.mid"},
		{"Long TID", func(c *Config) { c.Terminal.TID = "123456789" }, "terminal.tid"},
		{"Amount Too Large", func(c *Config) { c.Terminal.Amount = MaxAmount + 1 }, "terminal.amount"},
		{"Unknown Log Format", func(c *Config) { c.Logger.Format = "xml" }, "logger.format"},
		{"Kafka Without Brokers", func(c *Config) { c.Kafka = Kafka{Enabled: true, Topic: "t"} }, "kafka.brokers"},
		{"Redis Without List", func(c *Config) { c.Redis = Redis{Enabled: true, URI: "localhost:6379"} }, "redis.list"},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mod(&c)

			var ve ValidationErrors
			require.ErrorAs(t, c.Validate(), &ve)
			require.Contains(t, ve, tt.field)
			require.Len(t, ve, 1)
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	ve := ValidationErrors{}
	ve.Add("b", "second")
	ve.Add("a", "first")
	ve.Add("a", "again")

	require.Equal(t, "invalid configuration: a: first, again; b: second", ve.Error())
	require.NoError(t, ValidationErrors{}.Err())
}
