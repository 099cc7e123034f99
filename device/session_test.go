package device_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/netraven/core/device"
)

type fakeAdapter struct {
	openErr   error
	authErr   error
	runErr    error
	runOutput []byte
	closed    bool
}

func (f *fakeAdapter) Open(ctx context.Context, target device.Target) error { return f.openErr }
func (f *fakeAdapter) Authenticate(ctx context.Context, creds device.Credentials) error {
	return f.authErr
}
func (f *fakeAdapter) Run(ctx context.Context, cmd string) ([]byte, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.runOutput, nil
}
func (f *fakeAdapter) Close() error {
	f.closed = true
	return nil
}

func listenLoopback(t *testing.T) (device.Target, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	return device.Target{Host: "127.0.0.1", Port: addr.Port}, func() { _ = ln.Close() }
}

func TestAttemptSuccess(t *testing.T) {
	target, cleanup := listenLoopback(t)
	defer cleanup()

	fa := &fakeAdapter{runOutput: []byte("ok")}
	result := device.Attempt(context.Background(), uuid.New(), uuid.New(), func() device.Adapter { return fa }, target,
		device.Credentials{Username: "admin", Password: "secret"}, []string{"show version"},
		time.Second, time.Second, time.Second)

	require.Equal(t, device.OutcomeSuccess, result.Outcome)
	require.True(t, fa.closed)
	require.Len(t, result.Output, 1)
	require.NotEqual(t, uuid.Nil, result.SessionID)
}

func TestAttemptUnreachable(t *testing.T) {
	target := device.Target{Host: "127.0.0.1", Port: 1} // nothing listening
	result := device.Attempt(context.Background(), uuid.New(), uuid.New(), func() device.Adapter { return &fakeAdapter{} }, target,
		device.Credentials{}, nil, 200*time.Millisecond, time.Second, time.Second)

	require.Equal(t, device.OutcomeUnreachable, result.Outcome)
}

func TestAttemptAuthFailure(t *testing.T) {
	target, cleanup := listenLoopback(t)
	defer cleanup()

	fa := &fakeAdapter{authErr: errors.New("bad password")}
	result := device.Attempt(context.Background(), uuid.New(), uuid.New(), func() device.Adapter { return fa }, target,
		device.Credentials{Username: "admin", Password: "wrong"}, nil, time.Second, time.Second, time.Second)

	require.Equal(t, device.OutcomeAuthFailure, result.Outcome)
}

func TestAttemptEmitsSessionConnectionLog(t *testing.T) {
	target, cleanup := listenLoopback(t)
	defer cleanup()

	hook := logrustest.NewGlobal()
	defer hook.Reset()

	runID, deviceID := uuid.New(), uuid.New()
	fa := &fakeAdapter{runOutput: []byte("interface GigabitEthernet0/1")}
	result := device.Attempt(context.Background(), runID, deviceID, func() device.Adapter { return fa }, target,
		device.Credentials{Username: "admin", Password: "secret"}, []string{"show running-config"},
		time.Second, time.Second, time.Second)

	var entry *logrus.Entry
	for i := range hook.Entries {
		if hook.Entries[i].Data["source"] == "session" {
			entry = &hook.Entries[i]
			break
		}
	}
	require.NotNil(t, entry, "expected a source=session log entry")
	require.Equal(t, runID, entry.Data["job_run_id"])
	require.Equal(t, deviceID, entry.Data["device_id"])
	require.Equal(t, result.SessionID, entry.Data["session_id"])
	require.Equal(t, []string{"show running-config"}, entry.Data["commands"])
	require.Contains(t, entry.Data["output"], "interface GigabitEthernet0/1")
}

func TestAttemptWithRetryExhaustsOnTimeout(t *testing.T) {
	target, cleanup := listenLoopback(t)
	defer cleanup()

	fa := &fakeAdapter{runErr: context.DeadlineExceeded}
	policy := device.BackoffPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, JitterFrac: 0}

	result := device.AttemptWithRetry(context.Background(), uuid.New(), uuid.New(), func() device.Adapter { return fa }, target,
		device.Credentials{}, []string{"show version"}, policy, time.Second, time.Second, time.Millisecond)

	require.Equal(t, device.OutcomeTimeout, result.Outcome)
}
