package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dev-tams/cloudsweep/internal/notify"
)

func TestNotificationContextSurvivesRunCancel(t *testing.T) {
	type key string
	const k key = "run"

	parent, stop := context.WithCancel(context.WithValue(context.Background(), k, "buckets"))
	stop()

	ctx, cancel := notificationContext(parent)
	defer cancel()

	assert.NoError(t, ctx.Err(), "a cancelled run must still be able to notify")
	assert.Equal(t, "buckets", ctx.Value(k))

	dl, ok := ctx.Deadline()
	require.True(t, ok)
	remaining := time.Until(dl)
	assert.True(t, remaining > 0 && remaining <= notificationTimeout, "deadline window %s", remaining)
}

func TestRunEvent(t *testing.T) {
	var tl tally
	for _, s := range []string{StatusDeleted, StatusDeleted, StatusSkipped, StatusFailed} {
		tl.add(s)
	}
	started := time.Now().Add(-1500 * time.Millisecond)

	ev := runEvent("tables", tl, []string{"table:orders"}, started, nil)
	assert.Equal(t, notify.StatusFailure, ev.Status)
	assert.Equal(t, 2, ev.Succeeded)
	assert.Equal(t, 1, ev.Skipped)
	assert.Equal(t, 1, ev.Failed)
	assert.Equal(t, []string{"table:orders"}, ev.Leftovers)
	assert.Empty(t, ev.Error)
	assert.NotEmpty(t, ev.Duration)

	ok := runEvent("tables", tally{succeeded: 1}, nil, started, nil)
	assert.Equal(t, notify.StatusSuccess, ok.Status)

	stuck := runEvent("buckets", tally{succeeded: 1}, []string{"stack:site"}, started, nil)
	assert.Equal(t, notify.StatusFailure, stuck.Status, "a leftover stack fails the run")
	assert.Equal(t, 0, stuck.Failed)

	broken := runEvent("report findings", tally{}, nil, started, errors.New("access denied"))
	assert.Equal(t, notify.StatusFailure, broken.Status)
	assert.Equal(t, "access denied", broken.Error)
}

func TestSendEventToleratesNilDispatcher(t *testing.T) {
	assert.NotPanics(t, func() {
		sendEvent(context.Background(), nil, notify.Event{Command: "buckets", Status: notify.StatusSuccess}, true)
	})
}
