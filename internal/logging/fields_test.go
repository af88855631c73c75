package logging

import (
	"errors"
	"testing"
)

func TestService(t *testing.T) {
	attr := Service("collector")
	if attr.Key != FieldService {
		t.Errorf("expected key %q, got %q", FieldService, attr.Key)
	}
	if attr.Value.String() != "collector" {
		t.Errorf("expected value %q, got %q", "collector", attr.Value.String())
	}
}

func TestProjectID(t *testing.T) {
	attr := ProjectID("p1")
	if attr.Key != FieldProjectID {
		t.Errorf("expected key %q, got %q", FieldProjectID, attr.Key)
	}
	if attr.Value.String() != "p1" {
		t.Errorf("expected value %q, got %q", "p1", attr.Value.String())
	}
}

func TestEventID(t *testing.T) {
	attr := EventID("event-xyz-789")
	if attr.Key != FieldEventID {
		t.Errorf("expected key %q, got %q", FieldEventID, attr.Key)
	}
	if attr.Value.String() != "event-xyz-789" {
		t.Errorf("expected value %q, got %q", "event-xyz-789", attr.Value.String())
	}
}

func TestIPField(t *testing.T) {
	attr := IP("192.168.1.1")
	if attr.Key != FieldIP {
		t.Errorf("expected key %q, got %q", FieldIP, attr.Key)
	}
	if attr.Value.String() != "192.168.1.1" {
		t.Errorf("expected value %q, got %q", "192.168.1.1", attr.Value.String())
	}
}

func TestStatus(t *testing.T) {
	attr := Status(202)
	if attr.Key != FieldStatus {
		t.Errorf("expected key %q, got %q", FieldStatus, attr.Key)
	}
	if attr.Value.Int64() != 202 {
		t.Errorf("expected value %d, got %d", 202, attr.Value.Int64())
	}
}

func TestError(t *testing.T) {
	err := errors.New("something went wrong")
	attr := Error(err)
	if attr.Key != FieldError {
		t.Errorf("expected key %q, got %q", FieldError, attr.Key)
	}
	if attr.Value.String() != "something went wrong" {
		t.Errorf("expected value %q, got %q", "something went wrong", attr.Value.String())
	}
}

func TestRetries(t *testing.T) {
	attr := Retries(4)
	if attr.Key != FieldRetries {
		t.Errorf("expected key %q, got %q", FieldRetries, attr.Key)
	}
	if attr.Value.Int64() != 4 {
		t.Errorf("expected value %d, got %d", 4, attr.Value.Int64())
	}
}
