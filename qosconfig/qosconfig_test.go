package qosconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadTopicAttributesKeepLast(t *testing.T) {
	path := writeTemp(t, `{
		"name": "HelloTopic",
		"dataTypeName": "Hello",
		"withKey": true,
		"historyKind": "KEEP_LAST",
		"historyDepth": 5,
		"maxSamples": 100,
		"maxInstances": 10,
		"maxSamplesPerInstance": 10
	}`)

	attrs, err := LoadTopicAttributes(path)
	if err != nil {
		t.Fatalf("LoadTopicAttributes: %v", err)
	}
	if attrs.Name != "HelloTopic" || attrs.History.Depth != 5 {
		t.Fatalf("unexpected attrs: %+v", attrs)
	}
}

func TestLoadTopicAttributesRejectsInconsistentQos(t *testing.T) {
	path := writeTemp(t, `{
		"name": "Bad",
		"withKey": true,
		"historyKind": "KEEP_LAST",
		"historyDepth": 0
	}`)

	if _, err := LoadTopicAttributes(path); err == nil {
		t.Fatalf("expected depth-0 KEEP_LAST to be rejected")
	}
}

func TestLoadTopicAttributesRejectsUnknownField(t *testing.T) {
	path := writeTemp(t, `{"name": "X", "bogusField": 1}`)
	if _, err := LoadTopicAttributes(path); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestLoadReaderQosDefaults(t *testing.T) {
	path := writeTemp(t, `{}`)
	rq, err := LoadReaderQos(path)
	if err != nil {
		t.Fatalf("LoadReaderQos: %v", err)
	}
	if rq.Deadline.Period != 0 || rq.Reliability.Kind != 0 {
		t.Fatalf("expected zero-value defaults, got %+v", rq)
	}
}

func TestLoadReaderQosRejectsUnknownLivelinessKind(t *testing.T) {
	path := writeTemp(t, `{"livelinessKind": "BOGUS"}`)
	if _, err := LoadReaderQos(path); err == nil {
		t.Fatalf("expected unknown livelinessKind to be rejected")
	}
}

func TestLoadReaderQosParsesDurationsFromMilliseconds(t *testing.T) {
	path := writeTemp(t, `{"deadlinePeriodMs": 250, "reliabilityKind": "RELIABLE"}`)
	rq, err := LoadReaderQos(path)
	if err != nil {
		t.Fatalf("LoadReaderQos: %v", err)
	}
	if rq.Deadline.Period.Milliseconds() != 250 {
		t.Fatalf("expected 250ms deadline period, got %v", rq.Deadline.Period)
	}
	if rq.Reliability.Kind == 0 {
		t.Fatalf("expected RELIABLE to parse")
	}
}
