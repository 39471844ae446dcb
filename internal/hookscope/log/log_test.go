package log

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupAndRecover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hookscope.log")
	Setup(path, true)
	if !Initialized() {
		t.Fatal("not initialized after Setup")
	}

	cleaned := false
	func() {
		defer RecoverPanic("worker", func() { cleaned = true })
		panic("boom")
	}()
	if !cleaned {
		t.Error("cleanup not run")
	}

	slog.Debug("after panic", "sites", 3)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"Panic in worker", "boom", "after panic", "sites=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}
