package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func waitForLogs(t *testing.T, l *ConnLog, n int) []ConnectionLog {
	t.Helper()
	var logs []ConnectionLog
	require.Eventually(t, func() bool {
		var err error
		logs, err = l.Recent(context.Background(), 100)
		return err == nil && len(logs) >= n
	}, 2*time.Second, 10*time.Millisecond)
	return logs
}

func TestConnLog_RecordAndRecent(t *testing.T) {
	l, err := OpenConnLog("", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	alice := ClientInfo{ID: "id-1", DisplayName: "alice", Address: "127.0.0.1:5000"}
	l.Record(alice, EventConnected, "")
	l.Record(alice, EventTimeout, ReasonInactivity)
	l.Record(ClientInfo{ID: "id-2", DisplayName: "bob"}, EventKicked, ReasonKicked)

	logs := waitForLogs(t, l, 3)
	require.Len(t, logs, 3)
	assert.Equal(t, EventKicked, logs[0].EventType)
	assert.Equal(t, "bob", logs[0].DisplayName)
	assert.Equal(t, EventTimeout, logs[1].EventType)
	assert.Equal(t, ReasonInactivity, logs[1].Details)
	assert.Equal(t, "127.0.0.1:5000", logs[2].Address)
	assert.Greater(t, logs[0].ID, logs[1].ID)
	assert.WithinDuration(t, time.Now(), logs[0].Timestamp, time.Minute)

	limited, err := l.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, logs[0].ID, limited[0].ID)
}

func TestConnLog_PersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")

	l, err := OpenConnLog(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	l.Record(ClientInfo{ID: "id-1", DisplayName: "alice"}, EventConnected, "")
	require.NoError(t, l.Close())

	reopened, err := OpenConnLog(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	logs, err := reopened.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "alice", logs[0].DisplayName)
}

func TestConnLog_RecordAfterCloseIsIgnored(t *testing.T) {
	l, err := OpenConnLog("", zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.NotPanics(t, func() {
		l.Record(ClientInfo{ID: "late"}, EventShutdown, "")
	})
}
