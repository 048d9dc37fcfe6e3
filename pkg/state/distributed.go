package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kashaf12/mandate-sub001/pkg/policy"
)

// Distributed is the Redis-backed state manager (spec §4.6). It keeps
// one primary connection for reads/writes and one dedicated
// subscriber connection for kill broadcasts — pub/sub must not be
// multiplexed onto the primary connection (spec §5), mirroring
// core/pkg/kernel/limiter_redis.go's single-client-per-concern style.
type Distributed struct {
	client *redis.Client
	prefix string

	mu       sync.Mutex
	killCbs  map[string][]func(reason string)
	sub      *redis.PubSub
	subStart sync.Once
}

// NewDistributed creates a Distributed manager backed by client, with
// all keys namespaced under prefix (e.g. "mandate:").
func NewDistributed(client *redis.Client, prefix string) *Distributed {
	return &Distributed{
		client:  client,
		prefix:  prefix,
		killCbs: make(map[string][]func(reason string)),
	}
}

func (d *Distributed) stateKey(agentID, mandateID string) string {
	return fmt.Sprintf("%sstate:%s:%s", d.prefix, agentID, mandateID)
}

func (d *Distributed) toolKey(agentID, tool string) string {
	return fmt.Sprintf("%stool:ratelimit:%s:%s", d.prefix, agentID, tool)
}

func (d *Distributed) killChannel() string {
	return d.prefix + "kill:broadcast"
}

// Get reads the state hash, initializing the in-process representation
// from it (creating the hash lazily is left to CheckAndCommit/commit
// paths; a bare Get on an absent key returns a zeroed AgentState
// without writing anything, matching spec §3's "created lazily" for
// the read-only path too).
func (d *Distributed) Get(ctx context.Context, agentID, mandateID string) (*policy.AgentState, error) {
	vals, err := d.client.HGetAll(ctx, d.stateKey(agentID, mandateID)).Result()
	if err != nil {
		return nil, fmt.Errorf("state: distributed get failed: %w", err)
	}
	st := policy.NewAgentState(agentID, mandateID)
	if len(vals) == 0 {
		return st, nil
	}
	decodeHash(st, vals)
	expireLeases(st, time.Now())
	return st, nil
}

// CommitSuccess applies the shared commit semantics via a
// read-modify-write against the hash. This is the non-atomic path:
// used directly for failure-path charging (ATTEMPT_BASED) and for
// any commit that didn't already happen inside CheckAndCommit.
func (d *Distributed) CommitSuccess(ctx context.Context, action *policy.Action, st *policy.AgentState, chargedCost float64, agentRateLimit, toolRateLimit *policy.RateLimit) error {
	applyCommit(st, action, chargedCost, agentRateLimit, toolRateLimit)
	return d.writeHash(ctx, st)
}

func (d *Distributed) writeHash(ctx context.Context, st *policy.AgentState) error {
	fields := encodeHash(st)
	if err := d.client.HSet(ctx, d.stateKey(st.AgentID, st.MandateID), fields).Err(); err != nil {
		return fmt.Errorf("state: distributed commit failed: %w", err)
	}
	return nil
}

// Kill marks the state killed and publishes the broadcast payload on
// the shared kill channel (spec §4.6 "Kill propagation").
func (d *Distributed) Kill(ctx context.Context, st *policy.AgentState, reason string) error {
	now := time.Now()
	st.Killed = true
	st.KilledAt = &now
	st.KilledReason = reason

	if err := d.client.HSet(ctx, d.stateKey(st.AgentID, st.MandateID), map[string]any{
		"killed":       "1",
		"killedAt":     now.Format(time.RFC3339Nano),
		"killedReason": reason,
	}).Err(); err != nil {
		return fmt.Errorf("state: distributed kill failed: %w", err)
	}

	payload, _ := json.Marshal(killBroadcast{
		AgentID:   st.AgentID,
		MandateID: st.MandateID,
		Reason:    reason,
		Timestamp: now,
	})
	return d.client.Publish(ctx, d.killChannel(), payload).Err()
}

type killBroadcast struct {
	AgentID   string    `json:"agentId"`
	MandateID string    `json:"mandateId"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// IsKilled reads the killed flag directly; strongly consistent since
// it always hits the primary connection (spec §4.6).
func (d *Distributed) IsKilled(ctx context.Context, agentID, mandateID string) (bool, error) {
	v, err := d.client.HGet(ctx, d.stateKey(agentID, mandateID), "killed").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("state: distributed isKilled failed: %w", err)
	}
	return v == "1", nil
}

// Remove deletes every key associated with agentID (state hashes and
// tool rate-limit sorted sets) via SCAN, avoiding a blocking KEYS call.
func (d *Distributed) Remove(ctx context.Context, agentID string) error {
	patterns := []string{
		fmt.Sprintf("%sstate:%s:*", d.prefix, agentID),
		fmt.Sprintf("%stool:ratelimit:%s:*", d.prefix, agentID),
	}
	for _, pattern := range patterns {
		iter := d.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := d.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("state: distributed remove failed: %w", err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("state: distributed remove scan failed: %w", err)
		}
	}
	return nil
}

// Close shuts down the subscriber connection (if started) and the
// primary client.
func (d *Distributed) Close() error {
	d.mu.Lock()
	sub := d.sub
	d.sub = nil
	d.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
	return d.client.Close()
}

// OnKill registers cb for agentID and lazily starts the dedicated
// subscriber connection on first use.
func (d *Distributed) OnKill(agentID string, cb func(reason string)) {
	d.mu.Lock()
	d.killCbs[agentID] = append(d.killCbs[agentID], cb)
	d.mu.Unlock()

	d.subStart.Do(func() {
		d.sub = d.client.Subscribe(context.Background(), d.killChannel())
		go d.consumeKillMessages()
	})
}

// OffKill removes all callbacks registered for agentID.
func (d *Distributed) OffKill(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.killCbs, agentID)
}

func (d *Distributed) consumeKillMessages() {
	d.mu.Lock()
	sub := d.sub
	d.mu.Unlock()
	if sub == nil {
		return
	}
	ch := sub.Channel()
	for msg := range ch {
		var b killBroadcast
		if err := json.Unmarshal([]byte(msg.Payload), &b); err != nil {
			continue
		}
		d.mu.Lock()
		cbs := append([]func(string){}, d.killCbs[b.AgentID]...)
		d.mu.Unlock()
		for _, cb := range cbs {
			cb(b.Reason)
		}
	}
}

// TTLFor computes the state-hash TTL per spec §4.6: (expiresAt-now)+1
// hour, floored at 1 hour, or 0 (no TTL) when the mandate never expires.
func TTLFor(expiresAt *time.Time, now time.Time) time.Duration {
	if expiresAt == nil {
		return 0
	}
	ttl := expiresAt.Sub(now) + time.Hour
	if ttl < time.Hour {
		ttl = time.Hour
	}
	return ttl
}

// ToolTTLFor computes the tool rate-limit sorted-set TTL, roughly
// 2x the window (spec §4.6).
func ToolTTLFor(windowMs int64) time.Duration {
	return 2 * time.Duration(windowMs) * time.Millisecond
}

func encodeHash(st *policy.AgentState) map[string]any {
	actionIDs := make([]string, 0, len(st.SeenActionIDs))
	for id := range st.SeenActionIDs {
		actionIDs = append(actionIDs, id)
	}
	idemKeys := make([]string, 0, len(st.SeenIdempotencyKeys))
	for id := range st.SeenIdempotencyKeys {
		idemKeys = append(idemKeys, id)
	}
	toolCounts := make(map[string]policy.ToolCounter, len(st.ToolCounters))
	for tool, c := range st.ToolCounters {
		toolCounts[tool] = *c
	}
	leases := make(map[string]int64, len(st.ExecutionLeases))
	for id, t := range st.ExecutionLeases {
		leases[id] = t.UnixMilli()
	}

	actionIDsJSON, _ := json.Marshal(actionIDs)
	idemKeysJSON, _ := json.Marshal(idemKeys)
	toolCountsJSON, _ := json.Marshal(toolCounts)
	leasesJSON, _ := json.Marshal(leases)

	killed := "0"
	if st.Killed {
		killed = "1"
	}
	fields := map[string]any{
		"agentId":             st.AgentID,
		"mandateId":           st.MandateID,
		"cumulativeCost":      strconv.FormatFloat(st.CumulativeCost, 'f', -1, 64),
		"cognitionCost":       strconv.FormatFloat(st.CognitionCost, 'f', -1, 64),
		"executionCost":       strconv.FormatFloat(st.ExecutionCost, 'f', -1, 64),
		"callCount":           strconv.Itoa(st.CallCount),
		"windowStart":         strconv.FormatInt(st.WindowStart.UnixMilli(), 10),
		"toolCallCounts":      string(toolCountsJSON),
		"seenActionIds":       string(actionIDsJSON),
		"seenIdempotencyKeys": string(idemKeysJSON),
		"executionLeases":     string(leasesJSON),
		"killed":              killed,
	}
	if st.KilledAt != nil {
		fields["killedAt"] = st.KilledAt.Format(time.RFC3339Nano)
	}
	if st.KilledReason != "" {
		fields["killedReason"] = st.KilledReason
	}
	return fields
}

func decodeHash(st *policy.AgentState, vals map[string]string) {
	st.CumulativeCost = parseFloat(vals["cumulativeCost"])
	st.CognitionCost = parseFloat(vals["cognitionCost"])
	st.ExecutionCost = parseFloat(vals["executionCost"])
	st.CallCount = int(parseInt(vals["callCount"]))
	if ms := parseInt(vals["windowStart"]); ms > 0 {
		st.WindowStart = time.UnixMilli(ms)
	}
	if raw, ok := vals["seenActionIds"]; ok {
		var ids []string
		_ = json.Unmarshal([]byte(raw), &ids)
		for _, id := range ids {
			st.SeenActionIDs[id] = struct{}{}
		}
	}
	if raw, ok := vals["seenIdempotencyKeys"]; ok {
		var ids []string
		_ = json.Unmarshal([]byte(raw), &ids)
		for _, id := range ids {
			st.SeenIdempotencyKeys[id] = struct{}{}
		}
	}
	if raw, ok := vals["toolCallCounts"]; ok {
		var counts map[string]policy.ToolCounter
		_ = json.Unmarshal([]byte(raw), &counts)
		for tool, c := range counts {
			cc := c
			st.ToolCounters[tool] = &cc
		}
	}
	if raw, ok := vals["executionLeases"]; ok {
		var leases map[string]int64
		_ = json.Unmarshal([]byte(raw), &leases)
		for id, ms := range leases {
			st.ExecutionLeases[id] = time.UnixMilli(ms)
		}
	}
	st.Killed = vals["killed"] == "1"
	st.KilledReason = vals["killedReason"]
	if raw, ok := vals["killedAt"]; ok && raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			st.KilledAt = &t
		}
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

// Resurrect clears the kill flag, allowing a fresh start under the
// same mandate.
func (d *Distributed) Resurrect(ctx context.Context, st *policy.AgentState) error {
	st.Killed = false
	st.KilledAt = nil
	st.KilledReason = ""
	return d.client.HSet(ctx, d.stateKey(st.AgentID, st.MandateID), map[string]any{
		"killed":       "0",
		"killedAt":     "",
		"killedReason": "",
	}).Err()
}

// ReserveLease records actionID's lease expiry directly on the hash,
// independent of CheckAndCommit (spec §4.7 phase 2).
func (d *Distributed) ReserveLease(st *policy.AgentState, actionID string, expiresAt time.Time) {
	st.ExecutionLeases[actionID] = expiresAt
	fields, _ := json.Marshal(leasesOf(st))
	d.client.HSet(context.Background(), d.stateKey(st.AgentID, st.MandateID), "executionLeases", string(fields))
}

// ReleaseLease removes actionID's lease, mirrored back to Redis.
func (d *Distributed) ReleaseLease(st *policy.AgentState, actionID string) {
	delete(st.ExecutionLeases, actionID)
	fields, _ := json.Marshal(leasesOf(st))
	d.client.HSet(context.Background(), d.stateKey(st.AgentID, st.MandateID), "executionLeases", string(fields))
}

func leasesOf(st *policy.AgentState) map[string]int64 {
	leases := make(map[string]int64, len(st.ExecutionLeases))
	for id, t := range st.ExecutionLeases {
		leases[id] = t.UnixMilli()
	}
	return leases
}

// CheckAndCommit runs the atomic admission-plus-mutation script
// covering replay, cost, and rate-limit checks (spec §4.6). Kill,
// expiration, tool permission, and argument validation must already
// have been checked by the caller via policy.Evaluate against a Get()
// snapshot; this call only resolves the checks that need cross-process
// atomicity.
func (d *Distributed) CheckAndCommit(ctx context.Context, action *policy.Action, mandate *policy.Mandate) (policy.Decision, error) {
	toolPolicy := mandate.ToolPolicyFor(action.Tool)

	maxCostPerCall := mandate.MaxCostPerCall
	if toolPolicy != nil && toolPolicy.MaxCostPerCall != nil {
		maxCostPerCall = toolPolicy.MaxCostPerCall
	}

	agentRL := mandate.RateLimit
	var toolRL *policy.RateLimit
	if toolPolicy != nil {
		toolRL = toolPolicy.RateLimit
	}

	now := action.Timestamp
	stateTTL := TTLFor(mandate.ExpiresAt, now)
	var toolTTLSeconds int64
	if toolRL != nil {
		toolTTLSeconds = int64(ToolTTLFor(toolRL.WindowMs).Seconds())
	}

	argv := []interface{}{
		action.ID,
		action.IdempotencyKey,
		action.EstimatedCost,
		string(action.CostType),
		optionalFloat(maxCostPerCall),
		optionalFloat(mandate.MaxCostTotal),
		rateLimitMaxCalls(agentRL),
		rateLimitWindowMs(agentRL),
		rateLimitMaxCalls(toolRL),
		rateLimitWindowMs(toolRL),
		now.UnixMilli(),
		action.Tool,
		int64(stateTTL.Seconds()),
		toolTTLSeconds,
	}

	keys := []string{d.stateKey(action.AgentID, mandate.MandateID), d.toolKey(action.AgentID, action.Tool)}
	res, err := checkAndCommitScript.Run(ctx, d.client, keys, argv...).Result()
	if err != nil {
		return policy.Decision{}, fmt.Errorf("state: check-and-commit failed: %w", err)
	}
	return parseScriptResult(res)
}

func optionalFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func rateLimitMaxCalls(rl *policy.RateLimit) int64 {
	if rl == nil {
		return 0
	}
	return int64(rl.MaxCalls)
}

func rateLimitWindowMs(rl *policy.RateLimit) int64 {
	if rl == nil {
		return 0
	}
	return rl.WindowMs
}

// parseScriptResult decodes the script's {allowed, code, reason,
// remainingCost, remainingCalls} array, in that exact order.
func parseScriptResult(res interface{}) (policy.Decision, error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 5 {
		return policy.Decision{}, fmt.Errorf("state: unexpected script result shape: %v", res)
	}
	allowed, _ := toInt64(arr[0])
	code, _ := arr[1].(string)
	reason, _ := arr[2].(string)

	if allowed == 1 {
		return policy.Allow(reason, parseOptionalFloatField(arr[3]), parseOptionalIntField(arr[4])), nil
	}

	retryAfterMs := int64(0)
	hard := true
	if code == string(policy.CodeRateLimitExceeded) {
		retryAfterMs, _ = parseInt64Field(arr[4])
		hard = false
	}
	return policy.Block(policy.BlockCode(code), reason, hard, retryAfterMs), nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func parseOptionalFloatField(v interface{}) *float64 {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseOptionalIntField(v interface{}) *int {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &i
}

func parseInt64Field(v interface{}) (int64, error) {
	s, _ := v.(string)
	return strconv.ParseInt(s, 10, 64)
}

var _ Manager = (*Distributed)(nil)
var _ KillSubscriber = (*Distributed)(nil)
var _ AtomicCommitter = (*Distributed)(nil)
var _ Resurrector = (*Distributed)(nil)
var _ LeaseReserver = (*Distributed)(nil)
