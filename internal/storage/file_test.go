package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"wasend/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreAppend(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "audit")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	ctx := context.Background()
	ev := SessionEvent{At: time.Now(), SessionID: "s1", From: "initializing", To: "awaiting_scan", Reason: "pairing code received"}
	if err := st.AppendSessionEvent(ctx, ev); err != nil {
		t.Fatalf("AppendSessionEvent error: %v", err)
	}
	sum := DispatchSummary{At: time.Now(), SessionID: "s1", ReportID: "r1", Total: 3, Sent: 1, Failed: 2, Unregistered: 1, TookMS: 4200}
	if err := st.AppendDispatchSummary(ctx, sum); err != nil {
		t.Fatalf("AppendDispatchSummary error: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	var gotEv SessionEvent
	readLine(t, filepath.Join(dir, "audit.sessions.jsonl"), &gotEv)
	if gotEv.SessionID != "s1" || gotEv.To != "awaiting_scan" {
		t.Fatalf("session event = %+v", gotEv)
	}

	var gotSum DispatchSummary
	readLine(t, filepath.Join(dir, "audit.dispatches.jsonl"), &gotSum)
	if gotSum.ReportID != "r1" || gotSum.Failed != 2 || gotSum.Unregistered != 1 {
		t.Fatalf("dispatch summary = %+v", gotSum)
	}

	// Appends after close are rejected, not silently lost.
	if err := st.AppendSessionEvent(ctx, ev); err == nil {
		t.Fatal("expected error appending after close")
	}
}

func readLine(t *testing.T, path string, dst any) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatalf("%s is empty", path)
	}
	if err := json.Unmarshal(sc.Bytes(), dst); err != nil {
		t.Fatalf("unmarshal %s: %v", path, err)
	}
}
