package logstore_test

import (
	"bytes"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/netraven/core/logstore"
)

func compilePatterns(t *testing.T, patterns []string) []*regexp.Regexp {
	t.Helper()
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		require.NoError(t, err)
		out[i] = re
	}
	return out
}

func TestFireRedactsMessageAndMetaFields(t *testing.T) {
	patterns := compilePatterns(t, []string{`(?i)password\s*=\s*\S+`})
	store := logstore.New(nil, patterns, 10, nil)

	entry := &logrus.Entry{
		Message: "login attempt password=hunter2",
		Level:   logrus.InfoLevel,
		Data: logrus.Fields{
			"source": "session",
			"detail": "password=hunter2 again",
		},
	}
	require.NoError(t, store.Fire(entry))

	tail := store.Tail(1)
	require.Len(t, tail, 1)
	require.NotContains(t, tail[0].Message, "hunter2")
	require.Equal(t, "session", tail[0].Source)
	require.NotContains(t, tail[0].Meta["detail"], "hunter2")
}

func TestFireCarriesJobRunAndDeviceIDs(t *testing.T) {
	store := logstore.New(nil, nil, 10, nil)
	runID := uuid.New()
	deviceID := uuid.New()

	entry := &logrus.Entry{
		Message: "command executed",
		Level:   logrus.InfoLevel,
		Data: logrus.Fields{
			"job_run_id": runID,
			"device_id":  deviceID,
		},
	}
	require.NoError(t, store.Fire(entry))

	tail := store.Tail(1)
	require.Equal(t, &runID, tail[0].JobRunID)
	require.Equal(t, &deviceID, tail[0].DeviceID)
}

func TestRingBufferDropsOldestDebugEntryFirstOnOverflow(t *testing.T) {
	store := logstore.New(nil, nil, 2, nil)

	fire := func(level logrus.Level, msg string) {
		require.NoError(t, store.Fire(&logrus.Entry{Level: level, Message: msg}))
	}

	fire(logrus.DebugLevel, "debug-1")
	fire(logrus.InfoLevel, "info-1")
	fire(logrus.InfoLevel, "info-2")

	tail := store.Tail(2)
	require.Len(t, tail, 2)
	for _, e := range tail {
		require.NotEqual(t, "debug-1", e.Message)
	}
	require.Equal(t, int64(1), store.DroppedCount())
}

func TestRingBufferDropsOldestWhenNoDebugEntriesPresent(t *testing.T) {
	store := logstore.New(nil, nil, 2, nil)

	fire := func(level logrus.Level, msg string) {
		require.NoError(t, store.Fire(&logrus.Entry{Level: level, Message: msg}))
	}

	fire(logrus.InfoLevel, "info-1")
	fire(logrus.InfoLevel, "info-2")
	fire(logrus.InfoLevel, "info-3")

	tail := store.Tail(2)
	var msgs []string
	for _, e := range tail {
		msgs = append(msgs, e.Message)
	}
	require.Equal(t, []string{"info-2", "info-3"}, msgs)
}

func TestLevelsReturnsAllLevels(t *testing.T) {
	store := logstore.New(nil, nil, 10, nil)
	require.Equal(t, logrus.AllLevels, store.Levels())
}

func TestFireWritesRedactedNDJSONToFileSink(t *testing.T) {
	patterns := compilePatterns(t, []string{`(?i)password\s*=\s*\S+`})
	var buf bytes.Buffer
	store := logstore.New(nil, patterns, 10, &buf)

	require.NoError(t, store.Fire(&logrus.Entry{
		Message: "login attempt password=hunter2",
		Level:   logrus.InfoLevel,
		Data:    logrus.Fields{"source": "session"},
	}))

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.NotContains(t, rec["msg"], "hunter2")
	require.Equal(t, "session", rec["source"])
	require.Equal(t, "info", rec["level"])
}
