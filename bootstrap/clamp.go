package bootstrap

import "time"

// maxPhaseStaleness bounds how far into the future a phase's own
// reset deadline may push the caller: whatever a DirState reports, the
// driver still re-examines it at least once a week, bounding
// worst-case staleness when a phase's ResetTime is absent or
// unreasonably distant.
const maxPhaseStaleness = 7 * 24 * time.Hour

// noMoreThanAWeekFrom returns the earlier of v and now+7 days; if v is
// absent (ok is false), it returns now+7 days unconditionally.
func noMoreThanAWeekFrom(now time.Time, v time.Time, ok bool) time.Time {
	ceiling := now.Add(maxPhaseStaleness)
	if !ok {
		return ceiling
	}
	if v.After(ceiling) {
		return ceiling
	}
	return v
}
