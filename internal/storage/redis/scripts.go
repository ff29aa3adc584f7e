package redis

// argsPerRecord is the number of ARGV entries recordArgs produces.
const argsPerRecord = 9

const (
	// putLedgerBatchScript atomically replaces a batch of ledger records and
	// maintains the subscriber index. Each record hash is rewritten from
	// scratch so a record without a current session drops stale session fields.
	putLedgerBatchScript = `
local index_key = KEYS[1]       -- {prefix}:ledger:index
local stride = tonumber(ARGV[1])

for i = 2, #KEYS do
  local record_key = KEYS[i]    -- {prefix}:ledger:{subscriberID}
  local base = 2 + (i - 2) * stride

  local subscriber_id = ARGV[base]
  local period = ARGV[base + 1]
  local accumulated_rx = ARGV[base + 2]
  local accumulated_tx = ARGV[base + 3]
  local has_current = ARGV[base + 4]
  local session_id = ARGV[base + 5]
  local session_rx = ARGV[base + 6]
  local session_tx = ARGV[base + 7]
  local updated_at = ARGV[base + 8]

  redis.call('DEL', record_key)
  redis.call('HSET', record_key,
    'subscriber_id', subscriber_id,
    'period', period,
    'accumulated_rx', accumulated_rx,
    'accumulated_tx', accumulated_tx,
    'updated_at', updated_at
  )

  if has_current == '1' then
    redis.call('HSET', record_key,
      'session_id', session_id,
      'session_rx', session_rx,
      'session_tx', session_tx
    )
  end

  redis.call('SADD', index_key, subscriber_id)
end

return #KEYS - 1
`
)
