package worklog

import (
	"errors"
	"testing"
	"time"
)

func validRecord() Record {
	return Record{
		SourceID:        "wl-100",
		ParentKey:       "PROJ-1",
		DurationSeconds: 3600,
		StartedAt:       time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		RawComment:      "reviewed migration plan",
		Billable:        true,
	}
}

func TestRecordValidate(t *testing.T) {
	rec := validRecord()
	if err := rec.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}
}

func TestRecordValidateRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
		field  string
	}{
		{"missing source id", func(r *Record) { r.SourceID = "" }, "source_id"},
		{"missing parent key", func(r *Record) { r.ParentKey = "" }, "parent_key"},
		{"negative duration", func(r *Record) { r.DurationSeconds = -60 }, "duration_seconds"},
		{"zero start time", func(r *Record) { r.StartedAt = time.Time{} }, "started_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec)

			err := rec.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}
}

func TestBuildDescription(t *testing.T) {
	rec := validRecord()

	tests := []struct {
		name    string
		meta    IssueMeta
		comment string
		want    string
	}{
		{
			name:    "all segments",
			meta:    IssueMeta{Summary: "Fix login flow", EpicLabel: "Auth"},
			comment: "reviewed migration plan",
			want:    "Auth > PROJ-1: Fix login flow - reviewed migration plan",
		},
		{
			name:    "epic falls back to sentinel",
			meta:    IssueMeta{Summary: "Fix login flow"},
			comment: "reviewed migration plan",
			want:    "no-epic > PROJ-1: Fix login flow - reviewed migration plan",
		},
		{
			name:    "empty summary omitted",
			meta:    IssueMeta{EpicLabel: "Auth"},
			comment: "reviewed migration plan",
			want:    "Auth > PROJ-1 - reviewed migration plan",
		},
		{
			name:    "empty comment omitted",
			meta:    IssueMeta{Summary: "Fix login flow", EpicLabel: "Auth"},
			comment: "",
			want:    "Auth > PROJ-1: Fix login flow",
		},
		{
			name:    "only parent key",
			meta:    IssueMeta{},
			comment: "",
			want:    "no-epic > PROJ-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec.RawComment = tt.comment
			got := BuildDescription(rec, tt.meta)
			if got != tt.want {
				t.Errorf("BuildDescription() = %q, want %q", got, tt.want)
			}
		})
	}
}
