// Package examtime holds the deadline arithmetic shared by request handlers,
// sweepers and workers. Every caller must use the same formulas so concurrent
// observers of one session reach the same verdict.
package examtime

import (
	"time"

	"github.com/inkgrade/inkgrade-backend/internal/model"
)

// SubmitGrace is how far past the hard deadline an explicit submit is still
// accepted. It absorbs client and network lag right at the boundary.
const SubmitGrace = 5 * time.Minute

// SessionExpiry computes the expiry of a session started at now: the exam
// duration from now, clamped to the exam end.
func SessionExpiry(now time.Time, exam *model.Exam) time.Time {
	expiry := now.Add(exam.Duration())
	if exam.EndTime.Before(expiry) {
		return exam.EndTime
	}
	return expiry
}

// MinDeadline picks the earlier of a session expiry and an exam end. Every
// deadline decision in the system reduces to this one formula.
func MinDeadline(expiresAt, examEnd time.Time) time.Time {
	if examEnd.Before(expiresAt) {
		return examEnd
	}
	return expiresAt
}

// HardDeadline is the true cutoff for any session-scoped write:
// min(session.expires_at, exam.end_time).
func HardDeadline(session *model.ExamSession, exam *model.Exam) time.Time {
	return MinDeadline(session.ExpiresAt, exam.EndTime)
}

// PastDeadline reports whether now is at or past the hard deadline.
func PastDeadline(now time.Time, session *model.ExamSession, exam *model.Exam) bool {
	return !now.Before(HardDeadline(session, exam))
}

// WithinSubmitGrace reports whether an explicit submit arriving at now is
// still acceptable: at or before hard deadline + SubmitGrace.
func WithinSubmitGrace(now time.Time, session *model.ExamSession, exam *model.Exam) bool {
	return !now.After(HardDeadline(session, exam).Add(SubmitGrace))
}

// RemainingSeconds returns whole seconds until the hard deadline, clamped at zero.
func RemainingSeconds(now time.Time, session *model.ExamSession, exam *model.Exam) int64 {
	rem := HardDeadline(session, exam).Sub(now)
	if rem < 0 {
		return 0
	}
	return int64(rem / time.Second)
}

// EnterWindowOpen reports whether now lies inside the exam's entry window,
// boundaries included.
func EnterWindowOpen(now time.Time, exam *model.Exam) bool {
	return !now.Before(exam.StartTime) && !now.After(exam.EndTime)
}
