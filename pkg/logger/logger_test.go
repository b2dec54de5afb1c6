package logger

import "testing"

func TestNew_AcceptsKnownLevelsAndFormats(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "INFO", " debug "} {
		for _, format := range []string{"console", "json"} {
			log, err := New(level, format)
			if err != nil {
				t.Fatalf("New(%q, %q): %v", level, format, err)
			}
			log.Debugw("test line", "level", level, "format", format)
			_ = log.Sync()
		}
	}
}

func TestNew_UnknownInputsFallBack(t *testing.T) {
	log, err := New("loud", "yaml")
	if err != nil {
		t.Fatalf("unknown level/format should fall back, got %v", err)
	}
	log.Info("still works")
}

func TestNop(t *testing.T) {
	Nop().Errorw("discarded", "key", "value")
}
