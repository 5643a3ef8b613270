package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zrcvae/partnermatch/internal/domain"
	"github.com/zrcvae/partnermatch/internal/repository/memory"
)

type statsStub struct {
	stats domain.TeamStats
	err   error
}

func (s statsStub) TeamStats(context.Context, time.Time) (domain.TeamStats, error) {
	return s.stats, s.err
}

func TestTeamStatsJobSetsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := NewTeamStatsJob(statsStub{stats: domain.TeamStats{Active: 3, Expired: 1, Memberships: 7}}, time.Minute, reg)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := testutil.ToFloat64(job.teams.WithLabelValues("active")); got != 3 {
		t.Fatalf("expected 3 active teams, got %v", got)
	}
	if got := testutil.ToFloat64(job.teams.WithLabelValues("expired")); got != 1 {
		t.Fatalf("expected 1 expired team, got %v", got)
	}
	if got := testutil.ToFloat64(job.members); got != 7 {
		t.Fatalf("expected 7 memberships, got %v", got)
	}
}

func TestTeamStatsJobKeepsGaugesOnError(t *testing.T) {
	job := NewTeamStatsJob(statsStub{err: errors.New("db down")}, time.Minute, nil)
	job.members.Set(4)
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if got := testutil.ToFloat64(job.members); got != 4 {
		t.Fatalf("expected gauge untouched, got %v", got)
	}
}

func TestTeamStatsJobReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewTeamStatsJob(statsStub{}, time.Minute, reg)
	second := NewTeamStatsJob(statsStub{}, time.Minute, reg)
	if first.teams != second.teams {
		t.Fatalf("expected shared gauge vec")
	}
}

func TestTeamStatsJobReadsMemoryStore(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	owner := &domain.User{Username: "owner"}
	if err := store.CreateUser(ctx, owner); err != nil {
		t.Fatalf("create user: %v", err)
	}
	team := &domain.Team{OwnerID: owner.ID, Name: "hiking", Description: "d", MaxNum: 3}
	if err := store.CreateTeam(ctx, team); err != nil {
		t.Fatalf("create team: %v", err)
	}
	if err := store.CreateMembership(ctx, &domain.Membership{TeamID: team.ID, UserID: owner.ID, JoinTime: time.Now()}); err != nil {
		t.Fatalf("create membership: %v", err)
	}

	job := NewTeamStatsJob(store, time.Minute, nil)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := testutil.ToFloat64(job.teams.WithLabelValues("active")); got != 1 {
		t.Fatalf("expected 1 active team, got %v", got)
	}
	if got := testutil.ToFloat64(job.members); got != 1 {
		t.Fatalf("expected 1 membership, got %v", got)
	}
}

type signalJob struct {
	ran chan struct{}
}

func (j *signalJob) Name() string                   { return "signal" }
func (j *signalJob) Schedule() gocron.JobDefinition { return gocron.DurationJob(time.Hour) }
func (j *signalJob) Run(context.Context) error {
	select {
	case j.ran <- struct{}{}:
	default:
	}
	return nil
}

func TestManagerRunsJobOnStart(t *testing.T) {
	m, err := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	job := &signalJob{ran: make(chan struct{}, 1)}
	if err := m.Register(job); err != nil {
		t.Fatalf("register: %v", err)
	}
	m.Start()
	defer func() {
		if err := m.Shutdown(); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}()

	select {
	case <-job.ran:
	case <-time.After(5 * time.Second):
		t.Fatalf("job did not run after start")
	}
}
