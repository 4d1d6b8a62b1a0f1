package shell

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

func TestQuote(t *testing.T) {
	cases := map[string]string{
		"":            "''",
		"/dev/sdb":    "/dev/sdb",
		"a b":         "'a b'",
		"it's":        `'it'\''s'`,
		"UUID=ab-12":  "UUID=ab-12",
		"/mnt/my dir": "'/mnt/my dir'",
	}
	for in, want := range cases {
		if got := Quote(in); got != want {
			t.Fatalf("Quote(%q): want %s got %s", in, want, got)
		}
	}
}

func TestJoin(t *testing.T) {
	got := Join("parted", "-s", "/dev/sdb", "mklabel", "gpt")
	if got != "parted -s /dev/sdb mklabel gpt" {
		t.Fatalf("unexpected: %s", got)
	}
}

func TestRunExitCode(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}
	res, err := Run(context.Background(), 5*time.Second, "false")
	if err == nil {
		t.Fatalf("expected error")
	}
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CommandError, got %T", err)
	}
	if res.Code != 1 || ce.Code != 1 {
		t.Fatalf("want exit 1, got %d/%d", res.Code, ce.Code)
	}
}

func TestRunTimeout(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	_, err := Run(context.Background(), 50*time.Millisecond, "sleep", "5")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
}
