package team

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zrcvae/partnermatch/internal/domain"
	"github.com/zrcvae/partnermatch/internal/repository/memory"
)

func runConcurrentJoins(t *testing.T, f *fixture, teamID int64, joiners int) (int, []error) {
	t.Helper()
	users := make([]*domain.User, joiners)
	for i := range users {
		users[i] = f.user(t, fmt.Sprintf("joiner-%d", i))
	}
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, joiners)
	)
	for i, u := range users {
		wg.Add(1)
		go func(i int, u *domain.User) {
			defer wg.Done()
			<-start
			errs[i] = f.svc.Join(context.Background(), u, JoinInput{TeamID: teamID})
		}(i, u)
	}
	close(start)
	wg.Wait()

	ok := 0
	failures := make([]error, 0)
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		failures = append(failures, err)
	}
	return ok, failures
}

func TestConcurrentJoinsNeverOverfill(t *testing.T) {
	f := newFixture(t, Limits{})
	owner := f.user(t, "owner")
	teamID := f.team(t, owner, 2)

	ok, failures := runConcurrentJoins(t, f, teamID, 10)
	if ok != 1 {
		t.Fatalf("expected exactly one joiner to win the free seat, got %d", ok)
	}
	for _, err := range failures {
		if !errors.Is(err, ErrTeamFull) {
			t.Fatalf("expected team full, got %v", err)
		}
	}
	if n := f.memberCount(t, teamID); n != 2 {
		t.Fatalf("expected 2 members, got %d", n)
	}
}

func TestConcurrentJoinsIntoEmptyTeam(t *testing.T) {
	f := newFixture(t, Limits{SerializeMembership: true})
	owner := f.user(t, "owner")
	team := &domain.Team{OwnerID: owner.ID, Name: "empty", Description: "seeded", MaxNum: 2}
	if err := f.store.CreateTeam(context.Background(), team); err != nil {
		t.Fatalf("seed team: %v", err)
	}

	ok, failures := runConcurrentJoins(t, f, team.ID, 10)
	if ok != 2 {
		t.Fatalf("expected two joiners to succeed, got %d", ok)
	}
	for _, err := range failures {
		if !errors.Is(err, ErrTeamFull) {
			t.Fatalf("expected team full, got %v", err)
		}
	}
	if n := f.memberCount(t, team.ID); n != 2 {
		t.Fatalf("expected 2 members, got %d", n)
	}
}

func TestJoinRejections(t *testing.T) {
	f := newFixture(t, Limits{})
	owner := f.user(t, "owner")
	joiner := f.user(t, "joiner")
	ctx := context.Background()

	public := f.team(t, owner, 3)
	private, err := f.svc.Create(ctx, owner, CreateInput{Name: "p", Description: "p", MaxNum: 3, Status: intPtr(int(domain.TeamStatusPrivate))})
	if err != nil {
		t.Fatalf("create private: %v", err)
	}
	secret, err := f.svc.Create(ctx, owner, CreateInput{Name: "s", Description: "s", MaxNum: 3, Status: intPtr(int(domain.TeamStatusSecret)), Password: "letmein"})
	if err != nil {
		t.Fatalf("create secret: %v", err)
	}

	cases := []struct {
		name   string
		caller *domain.User
		in     JoinInput
		want   error
	}{
		{name: "anonymous", caller: nil, in: JoinInput{TeamID: public}, want: ErrLoginRequired},
		{name: "unknown team", caller: joiner, in: JoinInput{TeamID: 4242}, want: ErrTeamNotFound},
		{name: "own team", caller: owner, in: JoinInput{TeamID: public}, want: ErrOwnTeam},
		{name: "private", caller: joiner, in: JoinInput{TeamID: private}, want: ErrPrivateTeam},
		{name: "secret wrong password", caller: joiner, in: JoinInput{TeamID: secret, Password: "nope"}, want: ErrWrongPassword},
		{name: "secret no password", caller: joiner, in: JoinInput{TeamID: secret}, want: ErrWrongPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := f.svc.Join(ctx, tc.caller, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if err := f.svc.Join(ctx, joiner, JoinInput{TeamID: secret, Password: "letmein"}); err != nil {
		t.Fatalf("join secret: %v", err)
	}
	if err := f.svc.Join(ctx, joiner, JoinInput{TeamID: public}); err != nil {
		t.Fatalf("join public: %v", err)
	}
	if err := f.svc.Join(ctx, joiner, JoinInput{TeamID: public}); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("expected already joined, got %v", err)
	}
	if KindOf(ErrForbidden) != KindForbidden || KindOf(ErrPrivateTeam) != KindForbidden || KindOf(ErrTeamFull) != KindConflict {
		t.Fatal("unexpected error classification")
	}
	if KindOf(ErrLoginRequired) != KindInvalidInput {
		t.Fatalf("expected login required to be invalid input, got %v", KindOf(ErrLoginRequired))
	}
}

func TestJoinExpiredTeam(t *testing.T) {
	f := newFixture(t, Limits{})
	owner := f.user(t, "owner")
	joiner := f.user(t, "joiner")
	soon := time.Now().Add(time.Minute)
	id, err := f.svc.Create(context.Background(), owner, CreateInput{Name: "a", Description: "b", MaxNum: 3, ExpireTime: &soon})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.svc.now = func() time.Time { return soon.Add(time.Second) }
	if err := f.svc.Join(context.Background(), joiner, JoinInput{TeamID: id}); !errors.Is(err, ErrTeamExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestJoinQuota(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name      string
		maxJoined int
		sixthOK   bool
	}{
		{name: "default rejects sixth", maxJoined: 0, sixthOK: false},
		{name: "legacy allows sixth", maxJoined: 6, sixthOK: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Limits{MaxJoinedTeams: tc.maxJoined})
			joiner := f.user(t, "joiner")
			teams := make([]int64, 6)
			for i := range teams {
				teams[i] = f.team(t, f.user(t, fmt.Sprintf("owner-%d", i)), 3)
			}
			for _, id := range teams[:5] {
				if err := f.svc.Join(ctx, joiner, JoinInput{TeamID: id}); err != nil {
					t.Fatalf("join: %v", err)
				}
			}
			err := f.svc.Join(ctx, joiner, JoinInput{TeamID: teams[5]})
			if tc.sixthOK && err != nil {
				t.Fatalf("expected sixth join to pass, got %v", err)
			}
			if !tc.sixthOK && !errors.Is(err, ErrJoinQuota) {
				t.Fatalf("expected join quota, got %v", err)
			}
		})
	}
}

func TestJoinInterruptedWhileWaiting(t *testing.T) {
	f := newFixture(t, Limits{})
	owner := f.user(t, "owner")
	joiner := f.user(t, "joiner")
	id := f.team(t, owner, 3)

	held, err := f.locker.Acquire(context.Background(), DefaultJoinLockName)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.svc.Join(ctx, joiner, JoinInput{TeamID: id}); !errors.Is(err, ErrJoinInterrupted) {
		t.Fatalf("expected interrupted, got %v", err)
	}
	if n := f.memberCount(t, id); n != 1 {
		t.Fatalf("expected no new membership, got %d members", n)
	}
}

// stallingPublisher blocks the first publish until release is closed.
type stallingPublisher struct {
	once    sync.Once
	stalled chan struct{}
	release chan struct{}
}

func (p *stallingPublisher) Publish(domain.TeamEvent) {
	first := false
	p.once.Do(func() { first = true })
	if !first {
		return
	}
	close(p.stalled)
	<-p.release
}

func TestJoinReleasesLocksBeforePublishing(t *testing.T) {
	f := newFixture(t, Limits{SerializeMembership: true})
	owner := f.user(t, "owner")
	first := f.user(t, "first")
	second := f.user(t, "second")
	a := f.team(t, owner, 3)
	b := f.team(t, owner, 3)

	pub := &stallingPublisher{stalled: make(chan struct{}), release: make(chan struct{})}
	f.svc = f.svc.WithEvents(pub)

	done := make(chan error, 1)
	go func() { done <- f.svc.Join(context.Background(), first, JoinInput{TeamID: a}) }()
	select {
	case <-pub.stalled:
	case <-time.After(5 * time.Second):
		t.Fatal("first join never published")
	}
	defer close(pub.release)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := f.svc.Join(ctx, second, JoinInput{TeamID: b}); err != nil {
		t.Fatalf("expected join to proceed while another join publishes, got %v", err)
	}
	// The stalled join's team lock is free as well.
	if err := f.svc.Quit(ctx, first, a); err != nil {
		t.Fatalf("quit during stalled publish: %v", err)
	}
}

func TestQuitInterruptedWaitingForTeamLock(t *testing.T) {
	f := newFixture(t, Limits{SerializeMembership: true})
	owner := f.user(t, "owner")
	id := f.team(t, owner, 3)

	held, err := f.locker.Acquire(context.Background(), teamLockName(id))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = f.svc.Quit(ctx, owner, id)
	if !errors.Is(err, ErrLockInterrupted) {
		t.Fatalf("expected lock interrupted, got %v", err)
	}
	if strings.Contains(PublicMessage(err), "join") {
		t.Fatalf("quit should not report a join failure: %q", PublicMessage(err))
	}

	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.svc.Delete(ctx, owner, id); !errors.Is(err, ErrLockInterrupted) {
		t.Fatalf("expected lock interrupted on delete, got %v", err)
	}
	if n := f.memberCount(t, id); n != 1 {
		t.Fatalf("expected team untouched, got %d members", n)
	}
}

// staleStore serves one copy of a team that has already been removed, as a
// second Delete racing the first would see it.
type staleStore struct {
	*memory.Store
	mu    sync.Mutex
	stale *domain.Team
}

func (s *staleStore) GetTeamByID(ctx context.Context, id int64) (*domain.Team, error) {
	s.mu.Lock()
	stale := s.stale
	s.stale = nil
	s.mu.Unlock()
	if stale != nil && stale.ID == id {
		return stale, nil
	}
	return s.Store.GetTeamByID(ctx, id)
}

func TestDeleteLosingRaceReportsNotFound(t *testing.T) {
	f := newFixture(t, Limits{})
	owner := f.user(t, "owner")
	id := f.team(t, owner, 3)
	ctx := context.Background()

	snapshot, err := f.store.GetTeamByID(ctx, id)
	if err != nil {
		t.Fatalf("get team: %v", err)
	}
	if err := f.svc.Delete(ctx, owner, id); err != nil {
		t.Fatalf("first delete: %v", err)
	}

	svc := New(&staleStore{Store: f.store, stale: snapshot}, f.locker, f.admins, Limits{}, newLogger())
	err = svc.Delete(ctx, owner, id)
	if !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("expected not found for the losing delete, got %v", err)
	}
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not found kind, got %v", KindOf(err))
	}
}

func TestJoinAfterDisbandWhileWaiting(t *testing.T) {
	f := newFixture(t, Limits{})
	owner := f.user(t, "owner")
	joiner := f.user(t, "joiner")
	id := f.team(t, owner, 3)

	held, err := f.locker.Acquire(context.Background(), DefaultJoinLockName)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- f.svc.Join(context.Background(), joiner, JoinInput{TeamID: id}) }()

	time.Sleep(20 * time.Millisecond)
	if err := f.svc.Delete(context.Background(), owner, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = held.Release(context.Background())

	if err := <-done; !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("expected not found after disband, got %v", err)
	}
}

func TestJoinQuitRoundTrip(t *testing.T) {
	f := newFixture(t, Limits{})
	owner := f.user(t, "owner")
	joiner := f.user(t, "joiner")
	id := f.team(t, owner, 3)
	ctx := context.Background()

	if err := f.svc.Join(ctx, joiner, JoinInput{TeamID: id}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := f.svc.Quit(ctx, joiner, id); err != nil {
		t.Fatalf("quit: %v", err)
	}
	if n := f.memberCount(t, id); n != 1 {
		t.Fatalf("expected membership back to 1, got %d", n)
	}
	team, _ := f.store.GetTeamByID(ctx, id)
	if team.OwnerID != owner.ID {
		t.Fatalf("expected owner unchanged, got %d", team.OwnerID)
	}
	if err := f.svc.Quit(ctx, joiner, id); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected not member, got %v", err)
	}
}

func TestQuitLastMemberDisbands(t *testing.T) {
	f := newFixture(t, Limits{})
	owner := f.user(t, "owner")
	id := f.team(t, owner, 3)
	ctx := context.Background()

	if err := f.svc.Quit(ctx, owner, id); err != nil {
		t.Fatalf("quit: %v", err)
	}
	if _, err := f.svc.Get(ctx, owner, id); !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("expected team gone, got %v", err)
	}
	if n := f.memberCount(t, id); n != 0 {
		t.Fatalf("expected no memberships, got %d", n)
	}
	got := f.events.types()
	if got[len(got)-1] != domain.EventTeamDisbanded {
		t.Fatalf("expected disband event, got %v", got)
	}
}

func TestQuitOwnerHandsOverToEarliestMember(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()
	owner := f.user(t, "owner")
	b := f.user(t, "b")
	c := f.user(t, "c")

	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }
	id := f.team(t, owner, 5)
	// Every membership shares one timestamp, so membership id decides.
	for _, u := range []*domain.User{c, b} {
		if err := f.svc.Join(ctx, u, JoinInput{TeamID: id}); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	if err := f.svc.Quit(ctx, owner, id); err != nil {
		t.Fatalf("quit: %v", err)
	}
	team, _ := f.store.GetTeamByID(ctx, id)
	if team.OwnerID != c.ID {
		t.Fatalf("expected c to inherit the team, got owner %d", team.OwnerID)
	}
	if n := f.memberCount(t, id); n != 2 {
		t.Fatalf("expected two members left, got %d", n)
	}

	// Successor is chosen by join time when timestamps differ.
	f.svc.now = func() time.Time { return fixed.Add(time.Hour) }
	d := f.user(t, "d")
	if err := f.svc.Join(ctx, d, JoinInput{TeamID: id}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := f.svc.Quit(ctx, c, id); err != nil {
		t.Fatalf("quit: %v", err)
	}
	team, _ = f.store.GetTeamByID(ctx, id)
	if team.OwnerID != b.ID {
		t.Fatalf("expected b to inherit before later joiner d, got owner %d", team.OwnerID)
	}
}

func TestQuitRollsBackOnFailure(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()
	owner := f.user(t, "owner")
	member := f.user(t, "member")
	id := f.team(t, owner, 3)
	if err := f.svc.Join(ctx, member, JoinInput{TeamID: id}); err != nil {
		t.Fatalf("join: %v", err)
	}

	f.store.FailNext(memory.OpDeleteMemberships, errors.New("connection reset"))
	if err := f.svc.Quit(ctx, owner, id); KindOf(err) != KindSystem {
		t.Fatalf("expected system error, got %v", err)
	}
	team, _ := f.store.GetTeamByID(ctx, id)
	if team.OwnerID != owner.ID {
		t.Fatalf("expected ownership transfer to roll back, got owner %d", team.OwnerID)
	}
	if n := f.memberCount(t, id); n != 2 {
		t.Fatalf("expected memberships intact, got %d", n)
	}

	f.store.FailNext(memory.OpListMemberships, errors.New("timeout"))
	if err := f.svc.Quit(ctx, owner, id); KindOf(err) != KindSystem {
		t.Fatalf("expected system error from successor lookup, got %v", err)
	}
}

func TestDeleteOwnerOnly(t *testing.T) {
	f := newFixture(t, Limits{SerializeMembership: true})
	ctx := context.Background()
	owner := f.user(t, "owner")
	member := f.user(t, "member")
	admin := f.admin(t, "admin")
	id := f.team(t, owner, 3)
	if err := f.svc.Join(ctx, member, JoinInput{TeamID: id}); err != nil {
		t.Fatalf("join: %v", err)
	}

	for _, u := range []*domain.User{member, admin} {
		if err := f.svc.Delete(ctx, u, id); !errors.Is(err, ErrNotOwner) {
			t.Fatalf("expected not owner for %s, got %v", u.Username, err)
		}
	}
	if err := f.svc.Delete(ctx, owner, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := f.memberCount(t, id); n != 0 {
		t.Fatalf("expected memberships removed, got %d", n)
	}
	if err := f.svc.Delete(ctx, owner, id); !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if err := f.svc.Join(ctx, member, JoinInput{TeamID: id}); !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("expected disbanded team to reject joins, got %v", err)
	}
}

func TestDeleteRollsBackWhenTeamRemovalFails(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()
	owner := f.user(t, "owner")
	id := f.team(t, owner, 3)

	f.store.FailNext(memory.OpDeleteTeam, errors.New("lock timeout"))
	if err := f.svc.Delete(ctx, owner, id); KindOf(err) != KindSystem {
		t.Fatalf("expected system error, got %v", err)
	}
	if _, err := f.store.GetTeamByID(ctx, id); err != nil {
		t.Fatalf("expected team kept, got %v", err)
	}
	if n := f.memberCount(t, id); n != 1 {
		t.Fatalf("expected membership restored, got %d", n)
	}
}

func TestMetricsObserveOutcomes(t *testing.T) {
	f := newFixture(t, Limits{})
	m := NewMetrics(nil)
	f.svc = f.svc.WithMetrics(m)
	owner := f.user(t, "owner")
	id := f.team(t, owner, 2)
	_ = f.svc.Join(context.Background(), owner, JoinInput{TeamID: id})

	if got := counterValue(t, m, "create", "ok"); got != 1 {
		t.Fatalf("expected one ok create, got %v", got)
	}
	if got := counterValue(t, m, "join", "conflict"); got != 1 {
		t.Fatalf("expected one conflicting join, got %v", got)
	}
}

func counterValue(t *testing.T, m *Metrics, op, result string) float64 {
	t.Helper()
	return testutil.ToFloat64(m.operations.WithLabelValues(op, result))
}
