package redis

import goredis "github.com/redis/go-redis/v9"

// luaPrelude is shared by every script. ARGV[1] is always the key prefix.
const luaPrelude = `
local prefix = ARGV[1]
local function idx(status, jobType)
  return prefix .. 'idx:' .. status .. ':' .. jobType
end
local function score(status, runAt, updatedAt)
  if status == 'pending' or status == 'ready' then
    return runAt
  end
  return updatedAt
end
local function notify(jobType, id, status, op)
  redis.call('PUBLISH', prefix .. 'changes:' .. jobType,
    cmsgpack.pack({id = id, type = jobType, status = status, op = op}))
end
`

// insertScript stores a new job hash and indexes it.
// KEYS[1] job key. ARGV: prefix, id, type, status, run_at, updated_at,
// then field/value pairs.
var insertScript = goredis.NewScript(luaPrelude + `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local id, jobType, status = ARGV[2], ARGV[3], ARGV[4]
local fields = {}
for i = 7, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call('HSET', KEYS[1], unpack(fields))
redis.call('SADD', prefix .. 'types', jobType)
redis.call('ZADD', idx(status, jobType), score(status, ARGV[5], ARGV[6]), id)
notify(jobType, id, status, 'insert')
return 1
`)

// transitionScript applies a compare-and-set status change.
// KEYS[1] job key. ARGV: prefix, from, to, worker_id, now, inc_retry,
// run_at, last_error, result, result_data, terminal.
// Returns -1 when the job is missing and 0 when the guard fails.
var transitionScript = goredis.NewScript(luaPrelude + `
local from, to, workerID, now = ARGV[2], ARGV[3], ARGV[4], ARGV[5]
local cur = redis.call('HMGET', KEYS[1], 'id', 'type', 'status', 'worker_id', 'run_at')
if not cur[1] then
  return -1
end
if cur[3] ~= from then
  return 0
end
if workerID ~= '' and cur[4] ~= workerID then
  return 0
end
local id, jobType, runAt = cur[1], cur[2], cur[5]
local fields = {'status', to, 'updated_at', now}
if ARGV[7] ~= '' then
  runAt = ARGV[7]
  fields[#fields + 1] = 'run_at'
  fields[#fields + 1] = runAt
end
if ARGV[8] ~= '' then
  fields[#fields + 1] = 'last_error'
  fields[#fields + 1] = ARGV[8]
end
if to == 'ready' then
  fields[#fields + 1] = 'worker_id'
  fields[#fields + 1] = ''
end
if to == 'completed' then
  fields[#fields + 1] = 'result'
  fields[#fields + 1] = ARGV[9]
  fields[#fields + 1] = 'result_data'
  fields[#fields + 1] = ARGV[10]
end
if ARGV[11] == '1' then
  fields[#fields + 1] = 'completed_at'
  fields[#fields + 1] = now
end
redis.call('HSET', KEYS[1], unpack(fields))
if ARGV[6] == '1' then
  redis.call('HINCRBY', KEYS[1], 'retry_count', 1)
end
redis.call('ZREM', idx(from, jobType), id)
redis.call('ZADD', idx(to, jobType), score(to, runAt, now), id)
notify(jobType, id, to, 'update')
return 1
`)

// claimScript moves the oldest due ready job of a type to running and
// returns its ID. ARGV: prefix, type, due, worker_id, now.
var claimScript = goredis.NewScript(luaPrelude + `
local jobType, due, workerID, now = ARGV[2], ARGV[3], ARGV[4], ARGV[5]
local ready = idx('ready', jobType)
local ids = redis.call('ZRANGEBYSCORE', ready, '-inf', due, 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call('ZREM', ready, id)
redis.call('HSET', prefix .. 'job:' .. id,
  'status', 'running', 'worker_id', workerID, 'started_at', now, 'updated_at', now)
redis.call('ZADD', idx('running', jobType), now, id)
notify(jobType, id, 'running', 'update')
return id
`)

// moveScript moves every job of one type and status whose index score is
// within max to another status. ARGV: prefix, type, from, to, max, now,
// clear_worker, terminal.
var moveScript = goredis.NewScript(luaPrelude + `
local jobType, from, to, max, now = ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6]
local src = idx(from, jobType)
local ids = redis.call('ZRANGEBYSCORE', src, '-inf', max)
for _, id in ipairs(ids) do
  local key = prefix .. 'job:' .. id
  local fields = {'status', to, 'updated_at', now}
  if ARGV[7] == '1' then
    fields[#fields + 1] = 'worker_id'
    fields[#fields + 1] = ''
  end
  if ARGV[8] == '1' then
    fields[#fields + 1] = 'completed_at'
    fields[#fields + 1] = now
  end
  redis.call('ZREM', src, id)
  redis.call('HSET', key, unpack(fields))
  local runAt = redis.call('HGET', key, 'run_at')
  redis.call('ZADD', idx(to, jobType), score(to, runAt, now), id)
  notify(jobType, id, to, 'update')
end
return #ids
`)

// removeScript deletes jobs and their index entries. ARGV: prefix, ids...
var removeScript = goredis.NewScript(luaPrelude + `
local n = 0
for i = 2, #ARGV do
  local key = prefix .. 'job:' .. ARGV[i]
  local cur = redis.call('HMGET', key, 'type', 'status')
  if cur[1] then
    redis.call('ZREM', idx(cur[2], cur[1]), ARGV[i])
    redis.call('DEL', key)
    n = n + 1
  end
end
return n
`)
