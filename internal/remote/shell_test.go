package remote

import "testing"

func TestJoinCommandEscaping(t *testing.T) {
	got := JoinCommand("echo", []string{"a b", "quote'v"})
	want := "'echo' 'a b' 'quote'\"'\"'v'"
	if got != want {
		t.Fatalf("unexpected joined command\nwant: %s\ngot:  %s", want, got)
	}
}

func TestJoinCommandNoArgs(t *testing.T) {
	if got := JoinCommand("pwd", nil); got != "'pwd'" {
		t.Fatalf("unexpected joined command: %s", got)
	}
}

func TestShellEscapeEmpty(t *testing.T) {
	if got := ShellEscape(""); got != "''" {
		t.Fatalf("unexpected escape of empty string: %s", got)
	}
}
