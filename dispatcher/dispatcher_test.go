package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netraven/core/catalog"
)

func TestJobDeadlineUsesJobMaxDurationWhenSet(t *testing.T) {
	job := &catalog.Job{MaxDuration: 5 * time.Minute}
	require.Equal(t, 5*time.Minute, jobDeadline(job))
}

func TestJobDeadlineDefaultsWhenUnset(t *testing.T) {
	job := &catalog.Job{}
	require.Equal(t, 30*time.Minute, jobDeadline(job))
}
