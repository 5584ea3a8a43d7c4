package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ReplayStatus
		want     bool
	}{
		{StatusWaitingGC, StatusWaitingGC, true},
		{StatusWaitingGC, StatusWaitingDownload, true},
		{StatusWaitingGC, StatusGCError, true},
		{StatusWaitingGC, StatusArchived, false},
		{StatusWaitingGC, StatusDownloadInProgress, false},
		{StatusWaitingDownload, StatusDownloadInProgress, true},
		{StatusWaitingDownload, StatusWaitingDownload, true},
		{StatusWaitingDownload, StatusArchived, false},
		{StatusDownloadInProgress, StatusArchived, true},
		{StatusDownloadInProgress, StatusDownloadError, true},
		{StatusDownloadInProgress, StatusDownloadInProgress, false},
		{StatusDownloadInProgress, StatusWaitingDownload, true},
		{StatusGCError, StatusWaitingGC, true},
		{StatusGCError, StatusArchived, false},
		{StatusGCError, StatusWaitingDownload, false},
		{StatusDownloadError, StatusWaitingDownload, true},
		{StatusDownloadError, StatusWaitingGC, true},
		{StatusDownloadError, StatusArchived, false},
		{StatusArchived, StatusWaitingGC, true},
		{StatusArchived, StatusWaitingDownload, true},
		{StatusArchived, StatusDownloadError, true},
		{StatusArchived, StatusArchived, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

// Every path into ARCHIVED must come through DOWNLOAD_IN_PROGRESS.
func TestArchivedOnlyFromDownloadInProgress(t *testing.T) {
	for _, from := range AllStatuses {
		if CanTransition(from, StatusArchived) {
			assert.Equal(t, StatusDownloadInProgress, from)
		}
	}
}

func TestNextStatesIsACopy(t *testing.T) {
	next := NextStates(StatusGCError)
	assert.Equal(t, []ReplayStatus{StatusWaitingGC}, next)
	next[0] = StatusArchived
	assert.False(t, CanTransition(StatusGCError, StatusArchived))

	for _, from := range AllStatuses {
		for _, to := range NextStates(from) {
			assert.True(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestEntryJob(t *testing.T) {
	jt, ok := EntryJob(StatusWaitingGC)
	assert.True(t, ok)
	assert.Equal(t, JobMatchRequest, jt)

	jt, ok = EntryJob(StatusWaitingDownload)
	assert.True(t, ok)
	assert.Equal(t, JobDownloadRequest, jt)

	_, ok = EntryJob(StatusArchived)
	assert.False(t, ok)
}

func TestReplayInvariant(t *testing.T) {
	uri := ReplayKey(999000111)
	assert.Equal(t, "replays/999000111.dem.bz2", uri)

	assert.NoError(t, (&Replay{ID: 1, State: StatusArchived, LocalURI: &uri}).CheckInvariant())
	assert.NoError(t, (&Replay{ID: 1, State: StatusWaitingGC}).CheckInvariant())
	assert.Error(t, (&Replay{ID: 1, State: StatusArchived}).CheckInvariant())
	assert.Error(t, (&Replay{ID: 1, State: StatusDownloadError, LocalURI: &uri}).CheckInvariant())
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, JobProfileRequest, ParseJobType("PROFILE_REQUEST"))
	assert.Equal(t, JobUnknown, ParseJobType("bogus"))

	kind, ok := ParseCheckKind("MISSING_S3_FILE")
	assert.True(t, ok)
	assert.Equal(t, CheckMissingFile, kind)

	_, ok = ParseCheckKind("LONGEST_WAIT")
	assert.False(t, ok)
}

func TestParseReplayKey(t *testing.T) {
	id, ok := ParseReplayKey(ReplayKey(42))
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	for _, key := range []string{"replays/abc.dem.bz2", "other/42.dem.bz2", "replays/42.dem"} {
		_, ok := ParseReplayKey(key)
		assert.False(t, ok, key)
	}
}
