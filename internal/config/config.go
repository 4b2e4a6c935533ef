// Package config loads the terminal configuration: built-in defaults, then an optional YAML file,
// then BRIZZI_ environment variables.
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"

	"github.com/gregLibert/brizzi-terminal/pkg/codec"
)

// EnvPrefix marks the environment variables that override configuration keys. A double
// underscore separates nesting levels: BRIZZI_TERMINAL__PROC_CODE sets terminal.proc_code.
const EnvPrefix = "BRIZZI_"

// MaxAmount is the largest debit the card amount field can carry.
const MaxAmount = codec.MaxAmount

var DefaultConfig = []byte(`
application: "brizzi-terminal"

logger:
  level: "info"
  format: "json"

terminal:
  mid: ""
  tid: ""
  proc_code: "808000"
  batch_number: "000001"
  amount: 0

readers:
  picc: ""
  sam: ""

journal:
  path: "brizzi.db"

kafka:
  enabled: false
  brokers:
    - "localhost:9092"
  topic: "brizzi-transactions"

redis:
  enabled: false
  uri: "localhost:6379"
  password: ""
  list: "brizzi:failed-transactions"

metrics:
  addr: ""
`)

type Config struct {
	Application string   `koanf:"application"`
	Logger      Logger   `koanf:"logger"`
	Terminal    Terminal `koanf:"terminal"`
	Readers     Readers  `koanf:"readers"`
	Journal     Journal  `koanf:"journal"`
	Kafka       Kafka    `koanf:"kafka"`
	Redis       Redis    `koanf:"redis"`
	Metrics     Metrics  `koanf:"metrics"`
}

type Logger struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Terminal identifies the merchant terminal and the fare it charges.
type Terminal struct {
	MID         string `koanf:"mid"`
	TID         string `koanf:"tid"`
	ProcCode    string `koanf:"proc_code"`
	BatchNumber string `koanf:"batch_number"`
	Amount      uint32 `koanf:"amount"`
}

// Readers names the PC/SC readers. An empty PICC name accepts any reader other than the SAM's.
type Readers struct {
	PICC string `koanf:"picc"`
	SAM  string `koanf:"sam"`
}

type Journal struct {
	Path string `koanf:"path"`
}

type Kafka struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

type Redis struct {
	Enabled  bool   `koanf:"enabled"`
	URI      string `koanf:"uri"`
	Password string `koanf:"password"`
	List     string `koanf:"list"`
}

type Metrics struct {
	Addr string `koanf:"addr"`
}

// Load reads the layered configuration. path may be empty.
func Load(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(DefaultConfig), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	return k, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Read loads and decodes the configuration without validating it.
func Read(path string) (*Config, *koanf.Koanf, error) {
	k, err := Load(path)
	if err != nil {
		return nil, nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, nil, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, k, nil
}

// New loads, decodes and validates the configuration.
func New(path string) (*Config, *koanf.Koanf, error) {
	cfg, k, err := Read(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, k, nil
}

// ValidationErrors collects every invalid field instead of stopping at the first.
type ValidationErrors map[string][]string

func (ve ValidationErrors) Add(field, msg string) {
	ve[field] = append(ve[field], msg)
}

// Err returns nil when nothing was added.
func (ve ValidationErrors) Err() error {
	if len(ve) == 0 {
		return nil
	}
	return ve
}

func (ve ValidationErrors) Error() string {
	fields := make([]string, 0, len(ve))
	for f := range ve {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, strings.Join(ve[f], ", ")))
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	ve := ValidationErrors{}
	c.checkJournal(ve)

	checkHexID(ve, "terminal.mid", c.Terminal.MID, 8)
	checkHexID(ve, "terminal.tid", c.Terminal.TID, 4)
	if c.Terminal.Amount == 0 || c.Terminal.Amount > MaxAmount {
		ve.Add("terminal.amount", fmt.Sprintf("must be within 1..%d", MaxAmount))
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			ve.Add("kafka.brokers", "cannot be empty")
		}
		if c.Kafka.Topic == "" {
			ve.Add("kafka.topic", "cannot be empty")
		}
	}
	if c.Redis.Enabled {
		if c.Redis.URI == "" {
			ve.Add("redis.uri", "cannot be empty")
		}
		if c.Redis.List == "" {
			ve.Add("redis.list", "cannot be empty")
		}
	}

	return ve.Err()
}

// ValidateJournal checks only what reading the journal needs: logging and the journal path.
func (c *Config) ValidateJournal() error {
	ve := ValidationErrors{}
	c.checkJournal(ve)
	return ve.Err()
}

func (c *Config) checkJournal(ve ValidationErrors) {
	if c.Application == "" {
		ve.Add("application", "cannot be empty")
	}
	if c.Logger.Level == "" {
		ve.Add("logger.level", "cannot be empty")
	}
	switch c.Logger.Format {
	case "json", "console", "logfmt":
	default:
		ve.Add("logger.format", fmt.Sprintf("unknown format %q", c.Logger.Format))
	}
	if c.Journal.Path == "" {
		ve.Add("journal.path", "cannot be empty")
	}
}

// checkHexID requires a hex identifier of at most size bytes.
func checkHexID(ve ValidationErrors, field, v string, size int) {
	switch {
	case v == "":
		ve.Add(field, "cannot be empty")
	case len(v) > 2*size:
		ve.Add(field, fmt.Sprintf("longer than %d hex digits", 2*size))
	case !codec.IsHex(v):
		ve.Add(field, "must be hexadecimal")
	}
}
