package crdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/danthegoodman1/icetier/gologger"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

const maxExecRetries = 5

var (
	StandardContextTimeout = 10 * time.Second

	logger = gologger.ForComponent("crdb")
)

func ConnectToDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	logger.Debug().Msg("connecting to CRDB...")
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("error in pgxpool.ParseConfig: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.HealthCheckPeriod = time.Second * 5
	config.MaxConnLifetime = time.Minute * 30
	config.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error in pgxpool.ConnectConfig: %w", err)
	}
	logger.Debug().Msg("connected to CRDB")
	return pool, nil
}

// ReliableExec runs f on a pooled connection, retrying connection failures
// and retryable transaction errors until timeout.
func ReliableExec(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration, f func(ctx context.Context, conn *pgxpool.Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxExecRetries), ctx)
	return backoff.Retry(func() error {
		attempt++
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return retryable(ctx, err, attempt)
		}
		defer conn.Release()
		if err = f(ctx, conn); err != nil {
			return retryable(ctx, err, attempt)
		}
		return nil
	}, b)
}

// ReliableExecInTx is ReliableExec with f inside a transaction, which
// crdbpgx restarts on serialization failures.
func ReliableExecInTx(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration, f func(ctx context.Context, tx pgx.Tx) error) error {
	return ReliableExec(ctx, pool, timeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		return crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
			return f(ctx, tx)
		})
	})
}

func retryable(ctx context.Context, err error, attempt int) error {
	if !IsRetryable(err) {
		return backoff.Permanent(err)
	}
	zerolog.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("retryable CRDB error, retrying")
	return err
}

// IsRetryable reports whether err may succeed on another attempt. Server
// errors other than transaction retries and connection exceptions are final,
// as is cancellation.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, class 08 connection exceptions
		return pgErr.Code == "40001" || strings.HasPrefix(pgErr.Code, "08")
	}
	return true
}
