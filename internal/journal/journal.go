package journal

import (
	"context"
	"time"

	"codeberg.org/mutker/simtemp/internal/errors"
	"codeberg.org/mutker/simtemp/internal/logger"
	"codeberg.org/mutker/simtemp/internal/sensor"
)

type service struct {
	repo Repository
	log  logger.Logger
}

type noopJournal struct{}

func NewService(cfg Config, log logger.Logger) (Journal, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Alert journal disabled, using no-op journal")
		return noopJournal{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &service{repo: repo, log: log}, nil
}

func (s *service) Record(ctx context.Context, entry *Entry) error {
	errFactory := errors.New()

	if entry == nil {
		return errFactory.New(ErrInvalidEntry)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	return s.repo.Record(entry)
}

func (s *service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	errFactory := errors.New()

	if limit <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, limit)
	}

	select {
	case <-ctx.Done():
		return nil, errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	return s.repo.Recent(limit)
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

func (noopJournal) Record(_ context.Context, _ *Entry) error {
	return nil
}

func (noopJournal) Recent(_ context.Context, _ int) ([]Entry, error) {
	return nil, nil
}

func (noopJournal) Close() error {
	return nil
}

// Watch journals every alert src reports until ctx is done or src shuts
// down. Alerts that fire faster than they can be recorded collapse into the
// latest one.
func Watch(ctx context.Context, src AlertSource, j Journal, log logger.Logger) error {
	var last uint64

	for {
		ev, err := src.WaitAlert(ctx, last)
		switch {
		case err == nil:
		case errors.Is(err, sensor.ErrClosed):
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			return err
		}

		last = ev.Seq

		log.Info().
			Uint64("seq", ev.Seq).
			Int32("temp_mC", ev.Sample.TempMilliC).
			Int32("threshold_mC", ev.ThresholdMilliC).
			Msg("Threshold crossed")

		if err := j.Record(ctx, EntryFromAlert(ev, time.Now())); err != nil {
			log.Warn().Err(err).Uint64("seq", ev.Seq).Msg("Failed to journal alert")
		}
	}
}
