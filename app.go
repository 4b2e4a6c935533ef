package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"

	"github.com/gregLibert/brizzi-terminal/internal/config"
	"github.com/gregLibert/brizzi-terminal/internal/journal"
	"github.com/gregLibert/brizzi-terminal/internal/logging"
	"github.com/gregLibert/brizzi-terminal/internal/pcsc"
	"github.com/gregLibert/brizzi-terminal/internal/publish"
	"github.com/gregLibert/brizzi-terminal/internal/terminal"
)

// app is what every command needs: the configuration, a logger and the journal.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	journal *journal.Journal
}

// newApp requires a configuration complete enough to charge cards.
func newApp(cmd *cobra.Command) (*app, error) {
	return openApp(cmd, (*config.Config).Validate)
}

// newJournalApp is for commands that only read the journal; the terminal identity may be unset.
func newJournalApp(cmd *cobra.Command) (*app, error) {
	return openApp(cmd, (*config.Config).ValidateJournal)
}

func openApp(cmd *cobra.Command, validate func(*config.Config) error) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, _, err := config.Read(path)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{
		Level:   cfg.Logger.Level,
		Format:  cfg.Logger.Format,
		Service: cfg.Application,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		logging.Sync(logger)
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, journal: j}, nil
}

func (a *app) Close() {
	if err := a.journal.Close(); err != nil {
		a.logger.Warn("closing journal", zap.Error(err))
	}
	logging.Sync(a.logger)
}

// publisher builds the configured publishing chain. It returns nil when nothing is enabled.
func (a *app) publisher(ctx context.Context, metrics *kprom.Metrics) (publish.Publisher, error) {
	var primary, dlq publish.Publisher

	if a.cfg.Kafka.Enabled {
		k, err := publish.NewKafka(publish.KafkaConfig{
			Brokers: a.cfg.Kafka.Brokers,
			Topic:   a.cfg.Kafka.Topic,
		}, metrics, a.logger.With(logging.Component("kafka")))
		if err != nil {
			return nil, err
		}
		primary = k
	}

	if a.cfg.Redis.Enabled {
		client, err := publish.Connect(ctx, a.cfg.Redis.URI, a.cfg.Redis.Password)
		if err != nil {
			if primary != nil {
				primary.Close()
			}
			return nil, err
		}
		dlq = publish.NewDeadLetterQueue(client, a.cfg.Redis.List, a.logger.With(logging.Component("dlq")))
	}

	switch {
	case primary != nil && dlq != nil:
		return &publish.Fallback{Primary: primary, Secondary: dlq, Logger: a.logger}, nil
	case primary != nil:
		return primary, nil
	case dlq != nil:
		// Without kafka every result is parked for a later upload.
		return dlq, nil
	}
	return nil, nil
}

// terminal wires the PC/SC context to a terminal.
func (a *app) terminal(sc *pcsc.Context, opts ...terminal.Option) (*terminal.Terminal, error) {
	if a.cfg.Readers.SAM == "" {
		return nil, errors.New("readers.sam must name the SAM reader")
	}

	connect := terminal.ConnectFunc(func(reader string) (terminal.Card, error) {
		r, err := sc.Connect(reader)
		if err != nil {
			return nil, err
		}
		return r, nil
	})

	return terminal.New(terminal.Config{
		SAMReader:   a.cfg.Readers.SAM,
		PICCReader:  a.cfg.Readers.PICC,
		MID:         a.cfg.Terminal.MID,
		TID:         a.cfg.Terminal.TID,
		ProcCode:    a.cfg.Terminal.ProcCode,
		BatchNumber: a.cfg.Terminal.BatchNumber,
		Amount:      a.cfg.Terminal.Amount,
	}, connect, a.journal, a.logger.With(logging.Component("terminal")), opts...), nil
}
