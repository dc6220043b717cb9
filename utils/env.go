package utils

import (
	"os"
	"strconv"

	"github.com/danthegoodman1/icetier/gologger"
)

var logger = gologger.ForComponent("utils")

var (
	HTTP_PORT = envOr("HTTP_PORT", "8080")

	// CRDB_DSN enables the CRDB metastore, without it persisted chunks are forgotten on restart
	CRDB_DSN         = os.Getenv("CRDB_DSN")
	MIGRATE_ON_START = os.Getenv("MIGRATE_ON_START") == "1"

	// DATASTORE selects where persisted chunk files live, either `disk` or `s3`
	DATASTORE = envOr("DATASTORE", "disk")
	DATA_DIR  = envOr("DATA_DIR", "./data")

	AWS_ACCESS_KEY_ID     = os.Getenv("AWS_ACCESS_KEY_ID")
	AWS_SECRET_ACCESS_KEY = os.Getenv("AWS_SECRET_ACCESS_KEY")
	AWS_DEFAULT_REGION    = envOr("AWS_DEFAULT_REGION", "us-east-1")

	S3_BUCKET_NAME = os.Getenv("S3_BUCKET_NAME")
	S3_ENDPOINT    = os.Getenv("S3_ENDPOINT")

	// PARTITION_PLAN is a comma separated list of `func:arg:as`, ex: `toYear:time:y,toMonth:time:m`
	PARTITION_PLAN = os.Getenv("PARTITION_PLAN")

	// SCAN_BATCH_SIZE is the default max rows per scan batch, 0 keeps chunk batches whole
	SCAN_BATCH_SIZE    = envIntOr("SCAN_BATCH_SIZE", 1024)
	SHUTDOWN_SLEEP_SEC = envIntOr("SHUTDOWN_SLEEP_SEC", 0)
)

func envOr(env, defaultVal string) string {
	if e := os.Getenv(env); e != "" {
		return e
	}
	return defaultVal
}

// envIntOr exits on a malformed value, config is read once at startup.
func envIntOr(env string, defaultVal int) int {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(e)
	if err != nil {
		logger.Fatal().Err(err).Str("env", env).Str("value", e).Msg("failed to parse env var as int")
	}
	return i
}
