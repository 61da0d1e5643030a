package redis

// Redis key naming conventions for jobcontrol data. Every key starts with
// the store's prefix ("jobcontrol:" by default) to avoid collisions.
//
//	{prefix}job:{id}               Hash holding one job
//	{prefix}types                  Set of every job type seen
//	{prefix}idx:{status}:{type}    Sorted Set of job IDs per status
//	{prefix}changes:{type}         Pub/Sub channel of change notifications
//
// Pending and ready indexes are scored by run_at, the others by updated_at,
// all in Unix microseconds.

// DefaultKeyPrefix is the prefix used when none is configured.
const DefaultKeyPrefix = "jobcontrol:"

// jobKey returns the key for a job hash: {prefix}job:{id}
func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }

// typesKey returns the Set tracking all job types.
func (s *Store) typesKey() string { return s.prefix + "types" }

// indexKey returns the Sorted Set key for one status of one type.
func (s *Store) indexKey(status, jobType string) string {
	return s.prefix + "idx:" + status + ":" + jobType
}

// changesChannel returns the Pub/Sub channel for jobType.
func (s *Store) changesChannel(jobType string) string {
	return s.prefix + "changes:" + jobType
}
