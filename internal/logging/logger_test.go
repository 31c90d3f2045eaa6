package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{"warning", WARN, false},
		{" error ", ERROR, false},
		{"loud", INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogger_WithField(t *testing.T) {
	base := New(&bytes.Buffer{}, INFO, false).WithField("existing", "value")

	logger := base.WithField("new", "field")

	if logger.fields["existing"] != "value" {
		t.Error("existing field not preserved")
	}
	if logger.fields["new"] != "field" {
		t.Error("new field not added")
	}
	if _, ok := base.fields["new"]; ok {
		t.Error("original logger was modified")
	}
	if logger.mu != base.mu {
		t.Error("derived logger should share the writer lock")
	}
}

func TestWithFields_DefaultUntouched(t *testing.T) {
	logger := WithFields(map[string]interface{}{"key1": "value1", "key2": 42})

	if logger.fields["key1"] != "value1" || logger.fields["key2"] != 42 {
		t.Errorf("fields = %v", logger.fields)
	}
	if len(defaultLogger.fields) > 0 {
		t.Error("should not modify default logger")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, WARN, false)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() > 0 {
		t.Errorf("DEBUG/INFO should be filtered at WARN, got %q", buf.String())
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "[WARN] warn message") {
		t.Errorf("WARN should pass, got %q", buf.String())
	}

	buf.Reset()
	logger.Error("error %d", 7)
	if !strings.Contains(buf.String(), "[ERROR] error 7") {
		t.Errorf("ERROR should pass, got %q", buf.String())
	}
}

func TestLogger_FieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, DEBUG, false).WithFields(map[string]interface{}{
		"zeta":  1,
		"alpha": "a",
	})

	logger.Info("test")

	out := buf.String()
	if !strings.Contains(out, "| alpha=a zeta=1") {
		t.Errorf("fields should be sorted, got %q", out)
	}
}

func TestLogger_Color(t *testing.T) {
	var plain, colored bytes.Buffer
	New(&plain, DEBUG, false).Info("x")
	New(&colored, DEBUG, true).Info("x")

	if strings.Contains(plain.String(), "\033[") {
		t.Error("plain output should not contain escape codes")
	}
	if !strings.Contains(colored.String(), INFO.Color()) {
		t.Error("colored output should contain level color")
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("dropped")
	if logger.Level() <= ERROR {
		t.Error("Discard should be above every level")
	}
}

func TestPackageLevel(t *testing.T) {
	var buf bytes.Buffer
	origOutput := defaultLogger.output
	origLevel := defaultLogger.level
	origColor := defaultLogger.color
	defer func() {
		defaultLogger.output = origOutput
		defaultLogger.level = origLevel
		defaultLogger.color = origColor
	}()

	SetOutput(&buf)
	SetLevel(DEBUG)
	SetColor(false)

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")

	for _, want := range []string{"[DEBUG] d", "[INFO] i", "[WARN] w", "[ERROR] e"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q: %s", want, buf.String())
		}
	}
}

func TestSetters_ConcurrentWithLogging(t *testing.T) {
	var buf bytes.Buffer
	defaultLogger.mu.Lock()
	origOutput, origLevel, origColor := defaultLogger.output, defaultLogger.level, defaultLogger.color
	defaultLogger.mu.Unlock()
	defer func() {
		SetOutput(origOutput)
		SetLevel(origLevel)
		SetColor(origColor)
	}()
	SetOutput(&buf)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			SetColor(i%2 == 0)
			SetLevel(Level(i % 2))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			Info("tick %d", i)
			_ = Default().Level()
		}
	}()
	wg.Wait()

	SetColor(false)
	SetLevel(INFO)
	Info("done")
	if !strings.Contains(buf.String(), "[INFO] done") {
		t.Errorf("output missing final line: %s", buf.String())
	}
}
