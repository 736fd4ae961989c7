package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestCaptureWarningWithErrorSet(t *testing.T) {
	buf := bytes.Buffer{}
	logger := New()
	logger.SetOutput(&buf)
	if err := logger.SetLevel("error"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}

	logger.Warn("this warning should be dropped")
	logger.Error("this error should be kept")

	out := buf.String()
	if strings.Contains(out, "this warning should be dropped") {
		t.Errorf("warn logged despite Error level: %q", out)
	}
	if !strings.Contains(out, "this error should be kept") {
		t.Errorf("expected error message in log output, got %q", out)
	}
}

func TestWithFields(t *testing.T) {
	buf := bytes.Buffer{}
	logger := New()
	logger.SetOutput(&buf)
	logger.WithFields(Fields{"partition": "abc-123"}).Info("rotated")

	if !strings.Contains(buf.String(), `partition=abc-123`) {
		t.Errorf("expected field in log output, got %q", buf.String())
	}
}

func TestNoOpDiscardsOutput(t *testing.T) {
	l := NoOp()
	l.Info("should not panic or print anywhere visible")
}
