package app

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 15, 0, 0, time.FixedZone("CET", 3600))
	op := NewOperation("CreateVersion", now)

	if op.Name != "CreateVersion" {
		t.Errorf("Name = %q, want CreateVersion", op.Name)
	}
	if op.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", op.Status, StatusSuccess)
	}
	if !strings.HasPrefix(op.ID, "20260301T071500Z-") {
		t.Errorf("ID = %q, want UTC timestamp prefix", op.ID)
	}
	if len(op.ID) != len("20260301T071500Z-")+8 {
		t.Errorf("ID = %q, want 8 char suffix", op.ID)
	}
	if !op.StartedAt.Equal(now) || op.StartedAt.Location() != time.UTC {
		t.Errorf("StartedAt = %v, want %v in UTC", op.StartedAt, now)
	}

	other := NewOperation("CreateVersion", now)
	if other.ID == op.ID {
		t.Error("two operations started in the same second share an ID")
	}
}

func TestOperation_Fail(t *testing.T) {
	op := NewOperation("DeleteVersion", time.Now())

	op.Fail(nil)
	if op.Failed() {
		t.Error("Fail(nil) marked the operation failed")
	}

	op.Fail(errors.New("boom"))
	if !op.Failed() || op.Status != StatusError {
		t.Errorf("Status = %q after Fail(err), want %q", op.Status, StatusError)
	}

	op.Fail(nil)
	if !op.Failed() {
		t.Error("a later Fail(nil) cleared the failure")
	}
}
