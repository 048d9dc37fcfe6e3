package state

import "github.com/redis/go-redis/v9"

// checkAndCommitScript performs the whole admission-plus-mutation
// sequence described in spec §4.6 atomically on the Redis side, so
// two processes racing for the last dollar of a shared budget resolve
// to exactly one winner (spec §8 P7). It intentionally covers only the
// checks that actually need cross-process atomicity: replay
// detection, cost ceilings, and rate limits. Kill-switch, expiration,
// tool allow/deny, and argument validation are deterministic given the
// mandate and a fresh read of the state hash, so the executor performs
// those with policy.Evaluate against a Get() snapshot before ever
// calling this script (see pkg/executor and DESIGN.md's "Open
// Question decisions").
//
// KEYS[1] = state hash key
// KEYS[2] = tool sliding-window sorted set key (may be unused)
//
// ARGV:
//  1  actionId
//  2  idempotencyKey ("" if none)
//  3  estimatedCost
//  4  costType ("COGNITION" | "EXECUTION")
//  5  maxCostPerCall ("" = unbounded)
//  6  maxCostTotal ("" = unbounded)
//  7  agentMaxCalls ("0" = unlimited)
//  8  agentWindowMs
//  9  toolMaxCalls ("0" = unlimited / no tool rate limit configured)
//  10 toolWindowMs
//  11 nowMs
//  12 toolName ("" for llm calls)
//  13 stateTtlSeconds ("0" = no TTL)
//  14 toolTtlSeconds ("0" = no TTL)
var checkAndCommitScript = redis.NewScript(`
local stateKey = KEYS[1]
local toolKey = KEYS[2]

local actionId = ARGV[1]
local idemKey = ARGV[2]
local estimatedCost = tonumber(ARGV[3])
local costType = ARGV[4]
local maxCostPerCall = ARGV[5]
local maxCostTotal = ARGV[6]
local agentMaxCalls = tonumber(ARGV[7])
local agentWindowMs = tonumber(ARGV[8])
local toolMaxCalls = tonumber(ARGV[9])
local toolWindowMs = tonumber(ARGV[10])
local now = tonumber(ARGV[11])
local toolName = ARGV[12]
local stateTtl = tonumber(ARGV[13])
local toolTtl = tonumber(ARGV[14])

-- 1. Ensure state hash exists (initialize if absent).
local exists = redis.call("EXISTS", stateKey)
if exists == 0 then
    redis.call("HSET", stateKey,
        "cumulativeCost", "0",
        "cognitionCost", "0",
        "executionCost", "0",
        "callCount", "0",
        "windowStart", tostring(now),
        "seenActionIds", "[]",
        "seenIdempotencyKeys", "[]",
        "killed", "0")
end

local fields = redis.call("HMGET", stateKey,
    "cumulativeCost", "cognitionCost", "executionCost",
    "callCount", "windowStart", "seenActionIds", "seenIdempotencyKeys")

local cumulativeCost = tonumber(fields[1]) or 0
local cognitionCost = tonumber(fields[2]) or 0
local executionCost = tonumber(fields[3]) or 0
local callCount = tonumber(fields[4]) or 0
local windowStart = tonumber(fields[5]) or now
local seenActionIds = cjson.decode(fields[6] or "[]")
local seenIdemKeys = cjson.decode(fields[7] or "[]")

-- 2. Reject if actionId or idempotencyKey already recorded.
for _, id in ipairs(seenActionIds) do
    if id == actionId then
        return {0, "DUPLICATE_ACTION", "action id already seen", "", ""}
    end
end
if idemKey ~= "" then
    for _, id in ipairs(seenIdemKeys) do
        if id == idemKey then
            return {0, "DUPLICATE_ACTION", "idempotency key already seen", "", ""}
        end
    end
end

-- 3. Reject if estimatedCost > maxCostPerCall.
if maxCostPerCall ~= "" and estimatedCost > tonumber(maxCostPerCall) then
    return {0, "COST_LIMIT_EXCEEDED", "estimated cost exceeds per-call ceiling", "", ""}
end

-- 4. Reject if cumulativeCost + estimatedCost > maxCostTotal.
if maxCostTotal ~= "" and (cumulativeCost + estimatedCost) > tonumber(maxCostTotal) then
    return {0, "COST_LIMIT_EXCEEDED", "cumulative cost would exceed total ceiling", "", ""}
end

-- 5. Reject on agent-level rate limit (fixed window).
local windowEnd = windowStart + agentWindowMs
local windowActive = agentWindowMs > 0 and now < windowEnd
if agentMaxCalls > 0 and windowActive and callCount >= agentMaxCalls then
    local retryAfter = windowEnd - now
    if retryAfter < 0 then retryAfter = 0 end
    return {0, "RATE_LIMIT_EXCEEDED", "agent rate limit exceeded", "", tostring(retryAfter)}
end

-- 6. Reject on tool-level rate limit using the sliding-window sorted set.
if toolMaxCalls > 0 and toolName ~= "" then
    redis.call("ZREMRANGEBYSCORE", toolKey, "-inf", tostring(now - toolWindowMs))
    local toolCount = redis.call("ZCOUNT", toolKey, "-inf", "+inf")
    if toolCount >= toolMaxCalls then
        return {0, "RATE_LIMIT_EXCEEDED", "tool rate limit exceeded", "", tostring(toolWindowMs)}
    end
end

-- 7. On pass: mutate state.
if not windowActive then
    windowStart = now
    callCount = 1
else
    callCount = callCount + 1
end

cumulativeCost = cumulativeCost + estimatedCost
if costType == "COGNITION" then
    cognitionCost = cognitionCost + estimatedCost
else
    executionCost = executionCost + estimatedCost
end

table.insert(seenActionIds, actionId)
if idemKey ~= "" then
    table.insert(seenIdemKeys, idemKey)
end

redis.call("HMSET", stateKey,
    "cumulativeCost", tostring(cumulativeCost),
    "cognitionCost", tostring(cognitionCost),
    "executionCost", tostring(executionCost),
    "callCount", tostring(callCount),
    "windowStart", tostring(windowStart),
    "seenActionIds", cjson.encode(seenActionIds),
    "seenIdempotencyKeys", cjson.encode(seenIdemKeys))

if stateTtl > 0 then
    redis.call("EXPIRE", stateKey, stateTtl)
end

if toolMaxCalls > 0 and toolName ~= "" then
    redis.call("ZADD", toolKey, now, actionId)
    if toolTtl > 0 then
        redis.call("EXPIRE", toolKey, toolTtl)
    end
end

local remainingCost = ""
if maxCostTotal ~= "" then
    remainingCost = tostring(tonumber(maxCostTotal) - cumulativeCost)
end
local remainingCalls = ""
if agentMaxCalls > 0 then
    remainingCalls = tostring(agentMaxCalls - callCount)
end

-- 8. Return {allowed, code, reason, remainingCost, remainingCalls}.
return {1, "", "allowed", remainingCost, remainingCalls}
`)
