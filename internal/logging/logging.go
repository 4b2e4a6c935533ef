// Package logging provides structured logging configuration.
package logging

import (
	"strings"

	_ "github.com/jsternberg/zap-logfmt" // registers the "logfmt" encoding
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gregLibert/brizzi-terminal/pkg/iso7816"
	"github.com/gregLibert/brizzi-terminal/pkg/tlv"
)

// Config holds logging configuration options.
type Config struct {
	Level   string // debug|info|warn|error
	Format  string // json|console|logfmt
	Service string
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.Encoding = format
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.OutputPaths = []string{"stderr"}

	logger, err := zcfg.Build(zap.AddCaller())
	if err != nil {
		return nil, err
	}

	service := cfg.Service
	if service == "" {
		service = "brizzi-terminal"
	}
	return logger.With(zap.String("service", service)), nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// Component returns a zap field for the component name.
func Component(name string) zap.Field { return zap.String("component", name) }

// Endpoint returns a zap field for the APDU endpoint.
func Endpoint(ep iso7816.Endpoint) zap.Field { return zap.Stringer("endpoint", ep) }

// Reader returns a zap field for a PC/SC reader name.
func Reader(name string) zap.Field { return zap.String("reader", name) }

// APDU returns a zap field holding raw bytes as hex.
func APDU(key string, b []byte) zap.Field { return zap.String(key, tlv.HexString(b)) }

// Status returns a zap field for a status word.
func Status(sw iso7816.StatusWord) zap.Field { return zap.String("sw", sw.Verbose()) }

// CardNumber returns a zap field for a card number.
func CardNumber(n string) zap.Field { return zap.String("card_number", n) }

// TransactionID returns a zap field for a transaction id.
func TransactionID(id string) zap.Field { return zap.String("transaction_id", id) }

// Step returns a zap field for a protocol step.
func Step(name string) zap.Field { return zap.String("step", name) }

// APDUObserver logs every exchange of an iso7816.Port at debug level.
func APDUObserver(logger *zap.Logger) iso7816.Observer {
	return func(ep iso7816.Endpoint, cmd []byte, resp *iso7816.ResponseAPDU, err error) {
		if err != nil {
			logger.Debug("apdu exchange failed", Endpoint(ep), APDU("command", cmd), zap.Error(err))
			return
		}
		logger.Debug("apdu exchange",
			Endpoint(ep),
			APDU("command", cmd),
			APDU("response", resp.Buffer()),
			Status(resp.Status),
		)
	}
}
