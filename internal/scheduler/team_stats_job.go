package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zrcvae/partnermatch/internal/domain"
)

const teamStatsTimeout = 10 * time.Second

// StatsSource reports team counts as of now.
type StatsSource interface {
	TeamStats(ctx context.Context, now time.Time) (domain.TeamStats, error)
}

// TeamStatsJob refreshes team and membership gauges.
type TeamStatsJob struct {
	source   StatsSource
	interval time.Duration
	teams    *prometheus.GaugeVec
	members  prometheus.Gauge
	now      func() time.Time
}

// NewTeamStatsJob registers its gauges on reg. A nil reg leaves them
// unregistered.
func NewTeamStatsJob(source StatsSource, interval time.Duration, reg prometheus.Registerer) *TeamStatsJob {
	if interval <= 0 {
		interval = time.Minute
	}
	j := &TeamStatsJob{
		source:   source,
		interval: interval,
		teams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "partnermatch",
			Subsystem: "teams",
			Name:      "current",
			Help:      "Teams by expiry state at last refresh",
		}, []string{"state"}),
		members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "partnermatch",
			Subsystem: "teams",
			Name:      "memberships_current",
			Help:      "Team memberships at last refresh",
		}),
		now: func() time.Time { return time.Now().UTC() },
	}
	if reg == nil {
		return j
	}
	if err := reg.Register(j.teams); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				j.teams = existing
			}
		}
	}
	if err := reg.Register(j.members); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				j.members = existing
			}
		}
	}
	return j
}

func (j *TeamStatsJob) Name() string { return "team_stats" }

func (j *TeamStatsJob) Schedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

func (j *TeamStatsJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, teamStatsTimeout)
	defer cancel()
	stats, err := j.source.TeamStats(ctx, j.now())
	if err != nil {
		return fmt.Errorf("load team stats: %w", err)
	}
	j.teams.WithLabelValues("active").Set(float64(stats.Active))
	j.teams.WithLabelValues("expired").Set(float64(stats.Expired))
	j.members.Set(float64(stats.Memberships))
	return nil
}
