package line_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arzzra/multiline/pkg/line"
)

func TestLineDuration(t *testing.T) {
	now := time.Now()

	l := line.Line{Status: line.StatusProgress}
	assert.False(t, l.Established())
	assert.Zero(t, l.Duration(now))

	l.Status = line.StatusConfirmed
	l.ConfirmedAt = now.Add(-90 * time.Second)
	assert.True(t, l.Established())
	assert.Equal(t, 90*time.Second, l.Duration(now))
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "incoming", line.Incoming.String())
	assert.Equal(t, "outgoing", line.Outgoing.String())
	assert.Equal(t, "unknown", line.Direction(9).String())

	assert.Equal(t, "confirmed", line.StatusConfirmed.String())
	assert.Equal(t, "terminated", line.StatusTerminated.String())
	assert.Equal(t, "unknown", line.Status(42).String())

	assert.Equal(t, "transfer_accepted", line.EventTransferAccepted.String())
	assert.Equal(t, "unhold", line.EventUnhold.String())
	assert.Equal(t, "unknown", line.EventKind(-1).String())
}
