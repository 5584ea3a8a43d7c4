package domain

// transitions lists every legal pipeline move. Self loops are legal only for the
// two waiting states, where they mean "enqueue the same job again".
// DOWNLOAD_IN_PROGRESS -> WAITING_DOWNLOAD re-drives a claim whose worker went away.
var transitions = map[ReplayStatus][]ReplayStatus{
	StatusWaitingGC: {
		StatusWaitingGC,
		StatusWaitingDownload,
		StatusGCError,
	},
	StatusWaitingDownload: {
		StatusWaitingDownload,
		StatusDownloadInProgress,
		StatusWaitingGC,
	},
	StatusDownloadInProgress: {
		StatusArchived,
		StatusDownloadError,
		StatusWaitingGC,
		StatusWaitingDownload,
	},
	StatusGCError: {
		StatusWaitingGC,
	},
	StatusDownloadError: {
		StatusWaitingDownload,
		StatusWaitingGC,
	},
	StatusArchived: {
		StatusWaitingGC,
		StatusWaitingDownload,
		StatusDownloadError,
	},
}

// CanTransition reports whether a replay in from may move to to.
func CanTransition(from, to ReplayStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates returns the states reachable from from in one step.
func NextStates(from ReplayStatus) []ReplayStatus {
	out := make([]ReplayStatus, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// EntryJob returns the job type that must accompany entering s, if any.
func EntryJob(s ReplayStatus) (JobType, bool) {
	switch s {
	case StatusWaitingGC:
		return JobMatchRequest, true
	case StatusWaitingDownload:
		return JobDownloadRequest, true
	}
	return "", false
}
