package exitcode

// Exit codes for the cpgdata CLI.
// Orchestration can use these to decide retry strategy.
const (
	// Success - every partition was measured and committed
	Success = 0

	// ConfigError - missing or invalid configuration or flags
	// Don't retry: fix the config first
	ConfigError = 1

	// NetworkError - transient failure reaching S3 or a database
	// Retry with backoff
	NetworkError = 2

	// StorageError - failed to read or write inventory or output files
	// Retry with backoff
	StorageError = 4

	// DataError - a key given to parse did not match the layout
	// Don't retry: investigate the data
	DataError = 5

	// PartitionError - at least one partition failed; the rest were committed
	// Rerun the failed partitions
	PartitionError = 6

	// Interrupted - canceled by signal before finishing
	Interrupted = 7
)
