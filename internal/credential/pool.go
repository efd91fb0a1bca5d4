package credential

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/credential-broker/internal/logging"
	"github.com/kneutral-org/credential-broker/internal/metrics"
)

// Pool errors.
var (
	// ErrPoolExhausted is returned when no healthy or degraded credential
	// is free for selection. Retryable after backoff.
	ErrPoolExhausted = errors.New("credential pool exhausted")

	// ErrUnknownCredential is returned when an operation references a
	// credential id not present in the pool.
	ErrUnknownCredential = errors.New("unknown credential")

	// ErrEmptyPool is returned when constructing a pool without credentials.
	ErrEmptyPool = errors.New("credential pool requires at least one credential")
)

// Thresholds configures the health transition hysteresis. Zero values fall
// back to the defaults below.
type Thresholds struct {
	// DegradedAfter is the consecutive-failure count that demotes a
	// healthy credential to degraded.
	DegradedAfter int

	// UnavailableAfter is the consecutive-failure count that demotes a
	// degraded credential to unavailable.
	UnavailableAfter int

	// RecoverAfter is the consecutive-success count that promotes a
	// degraded or unavailable credential one tier up.
	RecoverAfter int

	// WindowSize is the number of recent outcomes in the sliding window
	// used for the failure-rate check.
	WindowSize int

	// FailureRate demotes a healthy credential when the window's failure
	// rate meets or exceeds it, even without a consecutive-failure run.
	FailureRate float64
}

const (
	defaultDegradedAfter    = 3
	defaultUnavailableAfter = 5
	defaultRecoverAfter     = 2
	defaultWindowSize       = 20
	defaultFailureRate      = 0.5
)

func (t Thresholds) withDefaults() Thresholds {
	if t.DegradedAfter <= 0 {
		t.DegradedAfter = defaultDegradedAfter
	}
	if t.UnavailableAfter <= 0 {
		t.UnavailableAfter = defaultUnavailableAfter
	}
	if t.RecoverAfter <= 0 {
		t.RecoverAfter = defaultRecoverAfter
	}
	if t.WindowSize <= 0 {
		t.WindowSize = defaultWindowSize
	}
	if t.FailureRate <= 0 {
		t.FailureRate = defaultFailureRate
	}
	return t
}

// entry is the pool's mutable per-credential state.
type entry struct {
	cred   Credential
	health Health
	inUse  bool

	consecutiveFailures  int
	consecutiveSuccesses int

	// window is a ring of recent outcomes, true = success.
	window    []bool
	windowPos int
	windowLen int

	// currentWeight is the smooth weighted round-robin accumulator.
	currentWeight int

	counters UsageCounters
}

func (e *entry) weight() int {
	if e.cred.Weight <= 0 {
		return 1
	}
	return e.cred.Weight
}

func (e *entry) recordWindow(success bool) {
	e.window[e.windowPos] = success
	e.windowPos = (e.windowPos + 1) % len(e.window)
	if e.windowLen < len(e.window) {
		e.windowLen++
	}
}

func (e *entry) windowFailureRate() float64 {
	if e.windowLen == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < e.windowLen; i++ {
		if !e.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(e.windowLen)
}

// Selection is the result of picking a credential for a lease.
type Selection struct {
	Credential Credential

	// Degraded flags that the credential was selected from the degraded
	// fallback tier, so callers can apply extra caution.
	Degraded bool
}

// Pool owns the credential set and is the single point of control for all
// credential state mutation. The credential set is loaded at construction;
// Reload is the only runtime mutation of membership and is an explicit
// administrative operation.
//
// All methods are safe for concurrent use. The internal mutex covers only
// in-memory read-modify-write sections and is never held across I/O.
type Pool struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      []string
	thresholds Thresholds
	logger     zerolog.Logger
	clock      func() time.Time
}

// NewPool constructs a pool from the configured credential list.
func NewPool(creds []Credential, thresholds Thresholds, logger zerolog.Logger) (*Pool, error) {
	if len(creds) == 0 {
		return nil, ErrEmptyPool
	}

	p := &Pool{
		entries:    make(map[string]*entry, len(creds)),
		thresholds: thresholds.withDefaults(),
		logger:     logger.With().Str("component", "credential-pool").Logger(),
		clock:      time.Now,
	}
	for _, c := range creds {
		p.entries[c.ID] = &entry{
			cred:   c,
			health: HealthHealthy,
			window: make([]bool, p.thresholds.WindowSize),
		}
		p.order = append(p.order, c.ID)
	}
	sort.Strings(p.order)
	p.publishHealthGauges()
	return p, nil
}

// Select picks a free credential using weighted round-robin over healthy
// credentials, falling back to degraded ones, and atomically marks it in
// use. Returns ErrPoolExhausted when nothing is selectable.
func (p *Pool) Select() (Selection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e := p.pickLocked(HealthHealthy); e != nil {
		e.inUse = true
		return Selection{Credential: e.cred}, nil
	}
	if e := p.pickLocked(HealthDegraded); e != nil {
		e.inUse = true
		lg := logging.CredentialLogger(p.logger, e.cred.ID)
		lg.Warn().
			Msg("no healthy credential free, selected degraded credential")
		return Selection{Credential: e.cred, Degraded: true}, nil
	}

	metrics.RecordPoolExhausted()
	return Selection{}, ErrPoolExhausted
}

// pickLocked runs one round of smooth weighted round-robin over the free
// credentials of the given health tier.
func (p *Pool) pickLocked(tier Health) *entry {
	var total int
	var best *entry
	for _, id := range p.order {
		e := p.entries[id]
		if e.health != tier || e.inUse {
			continue
		}
		total += e.weight()
		e.currentWeight += e.weight()
		if best == nil || e.currentWeight > best.currentWeight {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	best.currentWeight -= total
	return best
}

// Release clears the in-use flag, making the credential eligible for
// selection again regardless of health tier. Unknown ids are ignored so
// release stays idempotent across reloads.
func (p *Pool) Release(credentialID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[credentialID]; ok {
		e.inUse = false
	}
}

// ReportOutcome feeds one usage outcome into the rolling health window and
// cumulative counters, applying the hysteresis transitions between tiers.
func (p *Pool) ReportOutcome(credentialID string, success bool, duration time.Duration, units int64, errDetail string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[credentialID]
	if !ok {
		return ErrUnknownCredential
	}

	e.counters.LastUsed = p.clock()
	e.counters.UnitsConsumed += units
	e.recordWindow(success)

	if success {
		e.counters.Successes++
		e.consecutiveFailures = 0
		e.consecutiveSuccesses++
		metrics.RecordCredentialOutcome(credentialID, "success")
		p.maybePromoteLocked(e)
		return nil
	}

	e.counters.Failures++
	e.consecutiveSuccesses = 0
	e.consecutiveFailures++
	metrics.RecordCredentialOutcome(credentialID, "failure")

	if errDetail != "" {
		lg := logging.CredentialLogger(p.logger, credentialID)
		lg.Debug().
			Str("errorDetail", errDetail).
			Msg("credential usage failure reported")
	}

	p.maybeDemoteLocked(e)
	return nil
}

func (p *Pool) maybePromoteLocked(e *entry) {
	if e.consecutiveSuccesses < p.thresholds.RecoverAfter {
		return
	}
	switch e.health {
	case HealthDegraded:
		p.transitionLocked(e, HealthHealthy)
	case HealthUnavailable:
		p.transitionLocked(e, HealthDegraded)
	default:
		return
	}
	e.consecutiveSuccesses = 0
}

func (p *Pool) maybeDemoteLocked(e *entry) {
	switch e.health {
	case HealthHealthy:
		if e.consecutiveFailures >= p.thresholds.DegradedAfter ||
			(e.windowLen >= p.thresholds.WindowSize && e.windowFailureRate() >= p.thresholds.FailureRate) {
			p.transitionLocked(e, HealthDegraded)
			e.consecutiveFailures = 0
		}
	case HealthDegraded:
		if e.consecutiveFailures >= p.thresholds.UnavailableAfter {
			p.transitionLocked(e, HealthUnavailable)
			e.consecutiveFailures = 0
		}
	}
}

func (p *Pool) transitionLocked(e *entry, to Health) {
	from := e.health
	e.health = to
	lg := logging.CredentialLogger(p.logger, e.cred.ID)
	lg.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("credential health transition")
	p.publishHealthGauges()
}

// Reload replaces the credential set. Counters and health state of
// credentials that survive the reload are preserved; removed credentials
// are dropped even if currently bound (their leases release as no-ops).
func (p *Pool) Reload(creds []Credential) error {
	if len(creds) == 0 {
		return ErrEmptyPool
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]*entry, len(creds))
	var order []string
	for _, c := range creds {
		if existing, ok := p.entries[c.ID]; ok {
			existing.cred = c
			next[c.ID] = existing
		} else {
			next[c.ID] = &entry{
				cred:   c,
				health: HealthHealthy,
				window: make([]bool, p.thresholds.WindowSize),
			}
		}
		order = append(order, c.ID)
	}
	sort.Strings(order)

	p.logger.Info().
		Int("previousCount", len(p.entries)).
		Int("newCount", len(next)).
		Msg("credential pool reloaded")

	p.entries = next
	p.order = order
	p.publishHealthGauges()
	return nil
}

// Snapshot returns the masked introspection view of every pool entry,
// ordered by credential id.
func (p *Pool) Snapshot() []Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Info, 0, len(p.order))
	for _, id := range p.order {
		e := p.entries[id]
		out = append(out, Info{
			ID:           e.cred.ID,
			MaskedSecret: MaskSecret(e.cred.Secret),
			Health:       e.health,
			InUse:        e.inUse,
			Counters:     e.counters,
		})
	}
	return out
}

// CountByHealth returns the number of credentials in each health tier.
func (p *Pool) CountByHealth() map[Health]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.countByHealthLocked()
}

// Size returns the total number of credentials in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) countByHealthLocked() map[Health]int {
	counts := map[Health]int{
		HealthHealthy:     0,
		HealthDegraded:    0,
		HealthUnavailable: 0,
	}
	for _, e := range p.entries {
		counts[e.health]++
	}
	return counts
}

func (p *Pool) publishHealthGauges() {
	for health, count := range p.countByHealthLocked() {
		metrics.SetCredentialsByHealth(string(health), float64(count))
	}
}
