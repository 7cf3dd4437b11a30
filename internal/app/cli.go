package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet.
// Zero defaults leave the settings defaults in charge unless a flag is set.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
	flags.StringSlice("auth-public-paths", nil, "Paths served without authentication (default /health,/ready)")

	flags.String("search-backend", "", "Search backend: elasticsearch or bleve")
	flags.String("search-url", "", "Elasticsearch URL; empty disables search")
	flags.String("search-username", "", "Elasticsearch username")
	flags.String("search-password", "", "Elasticsearch password")
	flags.String("search-api-key", "", "Elasticsearch API key")
	flags.Duration("search-request-timeout", 0, "Timeout of a single search request")
	flags.Int("search-max-retries", 0, "Retries of a failed search request")
	flags.String("search-bleve-dir", "", "Directory of the embedded bleve indices")

	flags.String("store-path", "", "Path of the SQLite entity store")

	flags.Int("worker-concurrency", 0, "Reindex jobs processed at the same time")
	flags.Duration("worker-lock-duration", 0, "How long a reindex job may run without progress before it stalls")
	flags.Duration("worker-stalled-interval", 0, "How often stalled reindex jobs are checked")
	flags.Int("worker-max-stalled-count", 0, "How many times a stalled reindex job is retried")
	flags.Duration("worker-poll-interval", 0, "Wait between claims when no reindex job is queued")

	flags.Int("sync-queue-size", 0, "Pending write-path syncs before a backlog warning is logged")
	flags.Int("sync-workers", 0, "Goroutines applying write-path syncs")
	flags.Duration("sync-timeout", 0, "Timeout of a single write-path sync")

	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")
}
