package postgres

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startCommitFailBackend speaks just enough of the Postgres wire protocol to
// accept a connection, let a transaction begin, and reject COMMIT. This
// exercises the commit-failure path without a real server.
func startCommitFailBackend(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveCommitFail(conn)
		}
	}()

	return ln.Addr().String()
}

func serveCommitFail(conn net.Conn) {
	defer conn.Close()

	backend := pgproto3.NewBackend(conn, conn)
	if _, err := backend.ReceiveStartupMessage(); err != nil {
		return
	}

	backend.Send(&pgproto3.AuthenticationOk{})
	backend.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: "16.0"})
	backend.Send(&pgproto3.BackendKeyData{ProcessID: 1, SecretKey: 1})
	backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	if err := backend.Flush(); err != nil {
		return
	}

	for {
		msg, err := backend.Receive()
		if err != nil {
			return
		}

		switch m := msg.(type) {
		case *pgproto3.Query:
			if strings.Contains(strings.ToLower(m.String), "commit") {
				backend.Send(&pgproto3.ErrorResponse{
					Severity: "ERROR",
					Code:     "XX000",
					Message:  "forced commit failure",
				})
				backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
			} else {
				backend.Send(&pgproto3.CommandComplete{CommandTag: []byte("BEGIN")})
				backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'T'})
			}
			if err := backend.Flush(); err != nil {
				return
			}
		case *pgproto3.Terminate:
			return
		}
	}
}

func newCommitFailPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	addr := startCommitFailBackend(t)

	cfg, err := pgxpool.ParseConfig(
		"postgres://user:password@" + addr + "/newsletter?sslmode=disable&default_query_exec_mode=simple_protocol")
	require.NoError(t, err)
	cfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestWithinTransactionReportsCommitFailure(t *testing.T) {
	tm := NewTxManager(newCommitFailPool(t))

	var ran bool
	err := tm.WithinTransaction(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})

	assert.True(t, ran)
	require.Error(t, err, "a failed COMMIT must surface to the caller, not read as success")
	assert.Contains(t, err.Error(), "commit transaction")
	assert.Contains(t, err.Error(), "forced commit failure")
}

func TestWithinTransactionRollsBackOnCallbackError(t *testing.T) {
	tm := NewTxManager(newCommitFailPool(t))

	boom := assert.AnError
	err := tm.WithinTransaction(context.Background(), func(ctx context.Context) error {
		return boom
	})

	// The callback error wins; the rollback never reaches COMMIT so the
	// backend's forced failure is not observed.
	require.ErrorIs(t, err, boom)
}
