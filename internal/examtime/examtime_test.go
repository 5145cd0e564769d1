package examtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkgrade/inkgrade-backend/internal/model"
)

func testExam(start time.Time, durationMin int, end time.Time) *model.Exam {
	return &model.Exam{
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: durationMin,
	}
}

func TestSessionExpiry(t *testing.T) {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		exam *model.Exam
		want time.Time
	}{
		{
			name: "full duration fits before end",
			now:  base,
			exam: testExam(base, 60, base.Add(3*time.Hour)),
			want: base.Add(60 * time.Minute),
		},
		{
			name: "clamped to exam end",
			now:  base.Add(2*time.Hour + 30*time.Minute),
			exam: testExam(base, 60, base.Add(3*time.Hour)),
			want: base.Add(3 * time.Hour),
		},
		{
			name: "entry exactly at end yields end",
			now:  base.Add(3 * time.Hour),
			exam: testExam(base, 60, base.Add(3*time.Hour)),
			want: base.Add(3 * time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SessionExpiry(tt.now, tt.exam)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
			assert.False(t, got.After(tt.exam.EndTime), "expiry must never pass exam end")
		})
	}
}

func TestHardDeadline(t *testing.T) {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	exam := testExam(base, 90, base.Add(2*time.Hour))

	early := &model.ExamSession{ExpiresAt: base.Add(90 * time.Minute)}
	assert.True(t, HardDeadline(early, exam).Equal(base.Add(90*time.Minute)),
		"session expiry before exam end wins")

	late := &model.ExamSession{ExpiresAt: base.Add(2*time.Hour + 10*time.Minute)}
	assert.True(t, HardDeadline(late, exam).Equal(exam.EndTime),
		"exam end clamps a later session expiry")
}

func TestSubmitGraceWindow(t *testing.T) {
	// Exam ends at T while the session alone would run to T+10m: the
	// effective deadline is T. A submit 3 minutes late is tolerated,
	// 8 minutes late is not.
	endT := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	exam := testExam(endT.Add(-2*time.Hour), 130, endT)
	session := &model.ExamSession{ExpiresAt: endT.Add(10 * time.Minute)}

	require.True(t, HardDeadline(session, exam).Equal(endT))

	assert.True(t, WithinSubmitGrace(endT.Add(3*time.Minute), session, exam))
	assert.True(t, WithinSubmitGrace(endT.Add(5*time.Minute), session, exam))
	assert.False(t, WithinSubmitGrace(endT.Add(8*time.Minute), session, exam))
}

func TestPastDeadline(t *testing.T) {
	deadline := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	exam := testExam(deadline.Add(-1*time.Hour), 60, deadline)
	session := &model.ExamSession{ExpiresAt: deadline}

	assert.False(t, PastDeadline(deadline.Add(-time.Second), session, exam))
	assert.True(t, PastDeadline(deadline, session, exam), "deadline itself counts as past")
	assert.True(t, PastDeadline(deadline.Add(time.Second), session, exam))
}

func TestRemainingSeconds(t *testing.T) {
	deadline := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	exam := testExam(deadline.Add(-1*time.Hour), 60, deadline)
	session := &model.ExamSession{ExpiresAt: deadline}

	assert.Equal(t, int64(90), RemainingSeconds(deadline.Add(-90*time.Second), session, exam))
	assert.Equal(t, int64(0), RemainingSeconds(deadline, session, exam))
	assert.Equal(t, int64(0), RemainingSeconds(deadline.Add(time.Hour), session, exam),
		"never negative")
}

func TestEnterWindowOpen(t *testing.T) {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	exam := testExam(start, 60, end)

	assert.False(t, EnterWindowOpen(start.Add(-time.Minute), exam))
	assert.True(t, EnterWindowOpen(start, exam), "start boundary is inclusive")
	assert.True(t, EnterWindowOpen(start.Add(time.Hour), exam))
	assert.True(t, EnterWindowOpen(end, exam), "end boundary is inclusive")
	assert.False(t, EnterWindowOpen(end.Add(time.Second), exam))
}
