package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	gocel "github.com/google/cel-go/cel"

	celguard "github.com/sentinel-gate/broker/internal/adapter/outbound/cel"
	"github.com/sentinel-gate/broker/internal/domain/authz"
	"github.com/sentinel-gate/broker/internal/domain/identity"
	"github.com/sentinel-gate/broker/internal/domain/policy"
)

// lruEntry is a doubly-linked list node backing DecisionCache.
type lruEntry struct {
	key      uint64
	decision authz.Decision
	prev     *lruEntry
	next     *lruEntry
}

// DecisionCache is a bounded LRU cache of recent authorization decisions,
// keyed by an xxhash of (caller role, op, target descriptor) -- it sits in
// front of the CEL guard evaluation so a hot-path caller is not
// re-evaluating the same guard expression on every call.
type DecisionCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry
	tail    *lruEntry
	maxSize int
}

// NewDecisionCache builds a DecisionCache holding at most maxSize entries.
func NewDecisionCache(maxSize int) *DecisionCache {
	return &DecisionCache{entries: make(map[uint64]*lruEntry, maxSize), maxSize: maxSize}
}

// Get retrieves a cached decision, promoting it to most-recently-used.
func (c *DecisionCache) Get(key uint64) (authz.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return authz.Decision{}, false
}

// Put stores decision under key, evicting the least recently used entry if
// the cache is at capacity.
func (c *DecisionCache) Put(key uint64, decision authz.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}
	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called when the policy table is hot-reloaded.
func (c *DecisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head, c.tail = nil, nil
}

func (c *DecisionCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *DecisionCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *DecisionCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *DecisionCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *DecisionCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// computeCacheKey hashes (caller role, op, sorted target descriptor) for
// collision-resistant, deterministic cache lookups.
func computeCacheKey(role identity.Role, op policy.OperationType, target map[string]any) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(string(role))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(string(op))
	_, _ = h.Write([]byte{0})

	if len(target) > 0 {
		keys := make([]string, 0, len(target))
		for k := range target {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = h.WriteString(k)
			_, _ = h.Write([]byte{0})
			_, _ = h.WriteString(fmt.Sprint(target[k]))
			_, _ = h.Write([]byte{0})
		}
	}
	return h.Sum64()
}

// guardProgram is a compiled CEL guard expression plus its policy's reject
// action, cached so a policy's guard is compiled exactly once.
type guardProgram struct {
	program  gocel.Program
	onReject policy.GuardAction
}

// AuthzService implements the Authorization component (Z): the
// deterministic role/permission algorithm, narrowed by an optional
// compiled CEL guard layer, fronted by an LRU decision cache.
type AuthzService struct {
	roles     identity.RoleTable
	table     policy.Table
	evaluator *celguard.Evaluator
	cache     *DecisionCache
	logger    *slog.Logger

	mu      sync.RWMutex
	guards  map[policy.OperationType]*guardProgram
}

// AuthzOption configures an AuthzService.
type AuthzOption func(*AuthzService)

// WithDecisionCacheSize overrides the default 1000-entry decision cache.
func WithDecisionCacheSize(size int) AuthzOption {
	return func(s *AuthzService) { s.cache = NewDecisionCache(size) }
}

// NewAuthzService builds an AuthzService over a role table and a policy
// table, compiling every non-empty guard_expression up front so a
// misconfigured guard is caught at startup rather than on the hot path.
func NewAuthzService(roles identity.RoleTable, table policy.Table, logger *slog.Logger, opts ...AuthzOption) (*AuthzService, error) {
	evaluator, err := celguard.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("authz: build CEL evaluator: %w", err)
	}

	s := &AuthzService{
		roles:     roles,
		table:     table,
		evaluator: evaluator,
		cache:     NewDecisionCache(1000),
		logger:    logger,
		guards:    make(map[policy.OperationType]*guardProgram),
	}
	for _, opt := range opts {
		opt(s)
	}

	for op, pol := range table {
		if pol.GuardExpression == "" {
			continue
		}
		prg, err := s.evaluator.Compile(pol.GuardExpression)
		if err != nil {
			return nil, fmt.Errorf("authz: compile guard for %q: %w", op, err)
		}
		s.guards[op] = &guardProgram{program: prg, onReject: pol.GuardOnReject}
	}

	return s, nil
}

// CheckPermission reports whether caller's role carries perm -- the
// building block for read-only checks and approval-management-action
// checks (steps 2's read-only branch and the approval-action branch, and
// step 3's approver-role check is handled separately by CheckApprover).
func (s *AuthzService) CheckPermission(caller identity.Identity, perm identity.Permission) bool {
	return caller.Permissions(s.roles).Has(perm)
}

// CheckApprover reports whether caller's role is among pol's approver
// roles, per step 3 of the algorithm (enforced specifically for the
// execute:approval action).
func (s *AuthzService) CheckApprover(pol policy.Policy, caller identity.Identity) bool {
	return pol.ApproverAllowed(caller.Role)
}

// AuthorizeWrite runs the full write-operation algorithm (§4.4 steps 1-2,
// plus the CEL guard-narrowing layer), fronted by the decision cache. op
// must be a policy-table entry; targetDescriptor is the operation-scoped
// payload fragment the guard layer may predicate on.
func (s *AuthzService) AuthorizeWrite(caller identity.Identity, op policy.OperationType, targetDescriptor map[string]any) (authz.Decision, error) {
	cacheKey := computeCacheKey(caller.Role, op, targetDescriptor)
	if decision, ok := s.cache.Get(cacheKey); ok {
		return decision, nil
	}

	decision, err := s.evaluateWrite(caller, op, targetDescriptor)
	if err != nil {
		return authz.Decision{}, err
	}

	s.cache.Put(cacheKey, decision)
	return decision, nil
}

func (s *AuthzService) evaluateWrite(caller identity.Identity, op policy.OperationType, targetDescriptor map[string]any) (authz.Decision, error) {
	s.mu.RLock()
	pol, ok := s.table.Lookup(op)
	s.mu.RUnlock()
	if !ok {
		return authz.Decision{}, fmt.Errorf("authz: no policy for operation %q", op)
	}

	writePerm := identity.Permission("write:" + pol.Object())
	if !s.CheckPermission(caller, writePerm) {
		return authz.NewDeny("missing_permission"), nil
	}

	var decision authz.Decision
	if pol.ApprovalRequired {
		decision = authz.NewRequiresApproval(pol, "approval_required")
	} else {
		decision = authz.NewAllow()
	}

	// The CEL guard layer only narrows Allow; it never touches an
	// already-RequiresApproval or Deny outcome.
	if decision.Outcome != authz.Allow {
		return decision, nil
	}

	s.mu.RLock()
	guard, hasGuard := s.guards[op]
	s.mu.RUnlock()
	if !hasGuard {
		return decision, nil
	}

	roles := make([]identity.Role, 0, 1)
	roles = append(roles, caller.Role)
	guardCtx := policy.GuardContext{
		CallerID:         caller.UserID,
		CallerName:       caller.Username,
		CallerRoles:      roles,
		Operation:        op,
		TargetDescriptor: targetDescriptor,
		RequestTime:      time.Now().UTC(),
	}

	passed, err := s.evaluator.Evaluate(guard.program, guardCtx)
	if err != nil {
		return authz.Decision{}, fmt.Errorf("authz: guard evaluation for %q: %w", op, err)
	}
	if passed {
		return decision, nil
	}

	switch guard.onReject {
	case policy.GuardRequiresApproval:
		return authz.NewRequiresApproval(pol, "policy_guard"), nil
	default:
		return authz.NewDeny("policy_guard"), nil
	}
}

// Reload recompiles every guard expression from a freshly loaded policy
// table and clears the decision cache -- the supplemented
// Authorization.Reload(ctx) operation.
func (s *AuthzService) Reload(table policy.Table) error {
	guards := make(map[policy.OperationType]*guardProgram, len(table))
	for op, pol := range table {
		if pol.GuardExpression == "" {
			continue
		}
		prg, err := s.evaluator.Compile(pol.GuardExpression)
		if err != nil {
			return fmt.Errorf("authz: compile guard for %q: %w", op, err)
		}
		guards[op] = &guardProgram{program: prg, onReject: pol.GuardOnReject}
	}

	s.mu.Lock()
	s.table = table
	s.guards = guards
	s.mu.Unlock()

	s.cache.Clear()
	s.logger.Info("authorization service reloaded", "operations", len(table), "guards_compiled", len(guards))
	return nil
}
