package store

import "github.com/redis/go-redis/v9"

// ARGV layout: member, score, commit flag, then per key: exclusive cutoff, limit, expire seconds.
const slidingWindowScript = `
local n = #KEYS
local counts = {}
for i = 1, n do
  local base = 3 + (i - 1) * 3
  redis.call("ZREMRANGEBYSCORE", KEYS[i], "-inf", ARGV[base + 1])
  local count = redis.call("ZCARD", KEYS[i])
  counts[i] = count
  if count >= tonumber(ARGV[base + 2]) then
    local out = {0, i}
    for j = 1, i do
      out[#out + 1] = counts[j]
    end
    return out
  end
end
if ARGV[3] == "1" then
  for i = 1, n do
    local base = 3 + (i - 1) * 3
    redis.call("ZADD", KEYS[i], ARGV[2], ARGV[1])
    redis.call("EXPIRE", KEYS[i], ARGV[base + 3])
  end
end
local out = {1, 0}
for i = 1, n do
  out[#out + 1] = counts[i]
end
return out
`

var slidingWindowLua = redis.NewScript(slidingWindowScript)

// ARGV holds the TTL in seconds for each escalation tier.
const escalateScript = `
local level = tonumber(redis.call("GET", KEYS[1]) or "0")
local idx = level + 1
if idx > #ARGV then
  idx = #ARGV
end
local ttl = ARGV[idx]
redis.call("SETEX", KEYS[1], ttl, tostring(level + 1))
return {level, tonumber(ttl)}
`

var escalateLua = redis.NewScript(escalateScript)

const swapRefreshScript = `
local owner = redis.call("GET", KEYS[1])
if owner ~= ARGV[1] then
  return 0
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("SETEX", KEYS[2], ARGV[2], "1")
redis.call("DEL", KEYS[1])
redis.call("SETEX", KEYS[3], ARGV[3], ARGV[1])
return 1
`

var swapRefreshLua = redis.NewScript(swapRefreshScript)
