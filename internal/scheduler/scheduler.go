// Package scheduler drives the periodic work: the full remote poll, the
// faster mobile-device poll, and the auto offset recalculation sweep.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/ha-addons/tado-bridge/internal/config"
	"github.com/ha-addons/tado-bridge/internal/connector"
)

type Scheduler struct {
	cron *cron.Cron
	conn *connector.Connector
}

func New(conn *connector.Connector) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		conn: conn,
	}
}

// Intervals configures the poll timers. Zero values fall back to defaults;
// the refresh timers are skipped when they match the full-poll interval,
// which already covers their data.
type Intervals struct {
	ScanSeconds          int
	OffsetRecalcSeconds  int
	OffsetRefreshSeconds int
	HomeRefreshSeconds   int
}

// Start registers the poll timers and begins dispatching. The timers are
// independent: a slow mobile poll must not delay zone refreshes.
func (s *Scheduler) Start(intervals Intervals) error {
	scanIntervalSeconds := intervals.ScanSeconds
	if scanIntervalSeconds < 1 {
		scanIntervalSeconds = config.DefaultScanIntervalSeconds
	}
	offsetRecalcSeconds := intervals.OffsetRecalcSeconds
	if offsetRecalcSeconds < 1 {
		offsetRecalcSeconds = config.DefaultOffsetRecalcIntervalSeconds
	}

	if _, err := s.cron.AddFunc(every(scanIntervalSeconds), func() {
		s.conn.Update()
	}); err != nil {
		return fmt.Errorf("failed to schedule full poll: %w", err)
	}

	if _, err := s.cron.AddFunc(every(config.MobileScanIntervalSeconds), func() {
		s.conn.UpdateMobileDevices()
	}); err != nil {
		return fmt.Errorf("failed to schedule mobile device poll: %w", err)
	}

	if _, err := s.cron.AddFunc(every(offsetRecalcSeconds), func() {
		s.conn.Offsets().RecomputeAll()
	}); err != nil {
		return fmt.Errorf("failed to schedule offset recalculation: %w", err)
	}

	if n := intervals.OffsetRefreshSeconds; n > 0 && n != scanIntervalSeconds {
		if _, err := s.cron.AddFunc(every(n), func() {
			s.conn.UpdateDevices()
		}); err != nil {
			return fmt.Errorf("failed to schedule offset refresh: %w", err)
		}
	}
	if n := intervals.HomeRefreshSeconds; n > 0 && n != scanIntervalSeconds {
		if _, err := s.cron.AddFunc(every(n), func() {
			s.conn.UpdateHome()
		}); err != nil {
			return fmt.Errorf("failed to schedule home data refresh: %w", err)
		}
	}

	// Sensors linked at startup should take effect without waiting a full
	// recalc interval.
	if len(s.conn.Offsets().ZoneSensorMap()) > 0 {
		time.AfterFunc(5*time.Second, s.conn.Offsets().RecomputeAll)
	}

	s.cron.Start()
	log.Info().
		Int("scan_interval_seconds", scanIntervalSeconds).
		Int("mobile_interval_seconds", config.MobileScanIntervalSeconds).
		Int("offset_recalc_seconds", offsetRecalcSeconds).
		Msg("Poll scheduler started")
	return nil
}

// Stop halts dispatching and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func every(seconds int) string {
	return fmt.Sprintf("@every %ds", seconds)
}
