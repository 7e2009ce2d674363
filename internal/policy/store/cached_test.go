package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"qcgate/internal/policy"
)

type countingLoader struct {
	calls atomic.Int32
	mu    sync.Mutex
	set   policy.RuleSet
	err   error
	gate  chan struct{}
}

func (l *countingLoader) LoadRuleSet(_ context.Context) (policy.RuleSet, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return policy.RuleSet{}, l.err
	}
	return l.set.Clone(), nil
}

func (l *countingLoader) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

type CachedSuite struct {
	suite.Suite
	ctx    context.Context
	now    time.Time
	loader *countingLoader
	cache  *Cached
}

func TestCachedSuite(t *testing.T) {
	suite.Run(t, new(CachedSuite))
}

func (s *CachedSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.loader = &countingLoader{set: policy.DefaultRuleSet()}
	s.cache = NewCached(s.loader, time.Minute, WithClock(func() time.Time { return s.now }))
}

func (s *CachedSuite) TestServesFromSnapshotWithinTTL() {
	for range 5 {
		rules, err := s.cache.LoadRules(s.ctx)
		s.Require().NoError(err)
		s.NotEmpty(rules)
	}
	_, err := s.cache.DefaultApproverRoles(s.ctx)
	s.Require().NoError(err)
	s.Equal(int32(1), s.loader.calls.Load())

	s.now = s.now.Add(2 * time.Minute)
	_, err = s.cache.LoadOverrides(s.ctx)
	s.Require().NoError(err)
	s.Equal(int32(2), s.loader.calls.Load(), "expired snapshot reloads")
}

func (s *CachedSuite) TestInvalidateForcesReload() {
	_, err := s.cache.LoadRules(s.ctx)
	s.Require().NoError(err)
	s.cache.Invalidate()
	_, err = s.cache.LoadRules(s.ctx)
	s.Require().NoError(err)
	s.Equal(int32(2), s.loader.calls.Load())
}

func (s *CachedSuite) TestFailedRefreshKeepsServingStaleSnapshot() {
	rules, err := s.cache.LoadRules(s.ctx)
	s.Require().NoError(err)

	s.loader.fail(errors.New("db down"))
	s.now = s.now.Add(2 * time.Minute)

	stale, err := s.cache.LoadRules(s.ctx)
	s.Require().NoError(err)
	s.Equal(rules, stale)
}

func (s *CachedSuite) TestColdLoadFailureIsReturned() {
	s.loader.fail(errors.New("db down"))
	_, err := s.cache.LoadRules(s.ctx)
	s.Require().Error(err)
}

func (s *CachedSuite) TestInvalidRuleSetIsRejected() {
	s.loader.set = policy.RuleSet{Rules: []policy.Rule{{Name: "x", Action: "X", Permission: "NOPE"}}}
	_, err := s.cache.LoadRules(s.ctx)
	s.Require().Error(err)
}

func (s *CachedSuite) TestConcurrentReloadsCollapse() {
	s.loader.gate = make(chan struct{})
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.cache.LoadRules(s.ctx)
			s.NoError(err)
		}()
	}
	// Let the goroutines pile up on the in-flight load before releasing it.
	s.Eventually(func() bool { return s.loader.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(s.loader.gate)
	wg.Wait()

	s.LessOrEqual(s.loader.calls.Load(), int32(2))
}

func (s *CachedSuite) TestEngineOverCachedStore() {
	e := policy.NewEngine(s.cache)
	p := policyPrincipal(policy.RoleManager)
	d, err := e.Evaluate(s.ctx, policy.ActionCreateMachine, p, policy.EvalContext{})
	s.Require().NoError(err)
	s.True(d.RequiresApproval())
	s.Equal("machine-create-manager", d.MatchedRule.Name)
}
