package intent

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/internal/models"
)

func TestDecode(t *testing.T) {
	at := func(s string) time.Time {
		tm, err := time.ParseInLocation(time.DateTime, s, time.UTC)
		require.NoError(t, err)
		return tm
	}

	tests := []struct {
		name string
		raw  string
		want Request
	}{
		{
			name: "schedule",
			raw:  `{"intent":"schedule","details":{"what":"Dentist","when":"2024-01-02 10:00:00","where":"Clinic"},"priority":"high"}`,
			want: ScheduleRequest{Tasks: []models.TaskDetails{{
				What: "Dentist", When: ptr(at("2024-01-02 10:00:00")), Where: "Clinic", Priority: "high",
			}}},
		},
		{
			name: "call schedule alias",
			raw:  `{"intent":"schedule_appt","details":{"what":"Consultation","when":"2024-01-02T10:30:00"}}`,
			want: ScheduleRequest{Tasks: []models.TaskDetails{{
				What: "Consultation", When: ptr(at("2024-01-02 10:30:00")),
			}}},
		},
		{
			name: "legacy calendar create",
			raw:  `{"intent":"calendar","actions":{"type":"create","event_details":{"time":"2024-01-02 11:00:00","purpose":"Standup"}}}`,
			want: ScheduleRequest{Tasks: []models.TaskDetails{{
				What: "Standup", When: ptr(at("2024-01-02 11:00:00")),
			}}},
		},
		{
			name: "legacy calendar delete",
			raw:  `{"intent":"calendar","actions":{"type":"delete","event_details":{"time":"2024-01-02 11:00:00"}}}`,
			want: CancelRequest{When: ptr(at("2024-01-02 11:00:00"))},
		},
		{
			name: "legacy calendar search by day",
			raw:  `{"intent":"calendar","actions":{"type":"search","event_details":{"time":"2024-01-02 00:00:00"}}}`,
			want: SearchRequest{When: ptr(at("2024-01-02 00:00:00"))},
		},
		{
			name: "reschedule",
			raw:  `{"intent":"reschedule_appt","task_id":"t1","details":{"when":"2024-01-03 09:00"}}`,
			want: RescheduleRequest{TaskID: "t1", Details: models.TaskDetails{When: ptr(at("2024-01-03 09:00:00"))}},
		},
		{
			name: "reschedule from previous time",
			raw:  `{"intent":"reschedule","details":{"what":"Haircut","when":"2024-01-03 15:00","previous_when":"2024-01-03 11:00"}}`,
			want: RescheduleRequest{
				From:    ptr(at("2024-01-03 11:00:00")),
				Details: models.TaskDetails{What: "Haircut", When: ptr(at("2024-01-03 15:00:00"))},
			},
		},
		{
			name: "cancel without filters",
			raw:  `{"intent":"cancel_appt"}`,
			want: CancelRequest{},
		},
		{
			name: "search by task",
			raw:  `{"intent":"search","task_id":"t9"}`,
			want: SearchRequest{TaskID: "t9"},
		},
		{
			name: "none",
			raw:  `{"intent":"none"}`,
			want: NoOp{},
		},
		{
			name: "unsupported intent",
			raw:  `{"intent":"booking_flight"}`,
			want: NoOp{},
		},
		{
			name: "extracted tasks",
			raw:  `{"Category":"business","Priority":"low","Tasks":[{"What":"Team meeting","When":"2024-01-04 14:00:00","With Whom":"Ali"},{"What":"Buy milk","When":""},{"What":""}]}`,
			want: ScheduleRequest{Extracted: true, Tasks: []models.TaskDetails{
				{What: "Team meeting", When: ptr(at("2024-01-04 14:00:00")), WithWhom: "Ali", Priority: "low"},
				{What: "Buy milk", Priority: "low"},
			}},
		},
		{
			name: "category only",
			raw:  `{"Category":"personal","Tasks":[]}`,
			want: NoOp{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode([]byte(tt.raw), time.UTC))
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"not json", `Sure! Here is your answer`, ErrClassifierMalformed},
		{"error field", `{"intent":"schedule","error":"cannot parse request"}`, ErrClassifierMalformed},
		{"details error", `{"intent":"calendar","actions":{"type":"create","event_details":{"error":"ambiguous"}}}`, ErrClassifierMalformed},
		{"missing intent", `{"details":{"what":"x"}}`, ErrClassifierMalformed},
		{"unknown calendar action", `{"intent":"calendar","actions":{"type":"move","event_details":{"time":"2024-01-02 10:00:00"}}}`, ErrClassifierMalformed},
		{"schedule without when", `{"intent":"schedule","details":{"what":"Dentist"}}`, ErrWhenMissing},
		{"calendar without time", `{"intent":"calendar","actions":{"type":"create","event_details":{"purpose":"x"}}}`, ErrWhenMissing},
		{"reschedule without when", `{"intent":"reschedule","task_id":"t1"}`, ErrWhenMissing},
		{"schedule without what", `{"intent":"schedule","details":{"when":"2024-01-02 10:00:00"}}`, models.ErrInvalidInput},
		{"bad time", `{"intent":"schedule","details":{"what":"x","when":"tomorrow-ish"}}`, models.ErrInvalidInput},
		{"bad previous time", `{"intent":"reschedule","details":{"when":"2024-01-03 15:00","previous_when":"earlier"}}`, models.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Decode([]byte(tt.raw), time.UTC)
			m, ok := req.(Malformed)
			require.True(t, ok, "got %T", req)
			assert.True(t, errors.Is(m.Err, tt.wantErr), "got %v", m.Err)
		})
	}
}

func TestParseTime(t *testing.T) {
	pkt := time.FixedZone("PKT", 5*60*60)

	got, err := ParseTime("2024-01-02 10:00:00", pkt)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, pkt), got)

	got, err = ParseTime("2024-01-02T05:00:00Z", pkt)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 1, 2, 10, 0, 0, 0, pkt)))

	got, err = ParseTime("2024-01-02", pkt)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Hour())

	_, err = ParseTime("next tuesday", pkt)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func ptr(t time.Time) *time.Time { return &t }
