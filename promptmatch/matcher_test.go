package promptmatch

import (
	"regexp"
	"testing"
)

func TestFeedMatchesAnchoredPrompt(t *testing.T) {
	prompt := regexp.MustCompile(`r1#\s*$`)
	m := New([]*regexp.Regexp{prompt})

	out, matched, ok := m.Feed([]byte("show version\nCisco IOS XE Software\nVersion 17.3\nr1#"))
	if !ok {
		t.Fatalf("expected a match")
	}
	if matched != "r1#" {
		t.Fatalf("expected matched text 'r1#', got %q", matched)
	}
	want := "show version\nCisco IOS XE Software\nVersion 17.3"
	if string(out) != want {
		t.Fatalf("output = %q, want %q", out, want)
	}
}

func TestFeedAccumulatesAcrossChunks(t *testing.T) {
	prompt := regexp.MustCompile(`r1#\s*$`)
	m := New([]*regexp.Regexp{prompt})

	if _, _, ok := m.Feed([]byte("partial line without a ")); ok {
		t.Fatalf("did not expect a match on a partial chunk")
	}
	out, matched, ok := m.Feed([]byte("prompt yet\nr1#"))
	if !ok {
		t.Fatalf("expected a match once the prompt arrives")
	}
	if matched != "r1#" {
		t.Fatalf("unexpected matched text: %q", matched)
	}
	want := "partial line without a prompt yet"
	if string(out) != want {
		t.Fatalf("output = %q, want %q", out, want)
	}
}

func TestFeedIsRestartableAfterMatch(t *testing.T) {
	prompt := regexp.MustCompile(`r1#\s*$`)
	m := New([]*regexp.Regexp{prompt})

	if _, _, ok := m.Feed([]byte("first command output\nr1#")); !ok {
		t.Fatalf("expected first match")
	}

	out, matched, ok := m.Feed([]byte("second command output\nr1#"))
	if !ok {
		t.Fatalf("expected second match")
	}
	if matched != "r1#" {
		t.Fatalf("unexpected matched text: %q", matched)
	}
	if string(out) != "second command output" {
		t.Fatalf("output leaked across commands: %q", out)
	}
}

func TestFeedToleratesCRLFAndBareCR(t *testing.T) {
	prompt := regexp.MustCompile(`r1#\s*$`)
	m := New([]*regexp.Regexp{prompt})

	out, _, ok := m.Feed([]byte("line one\r\nline two\rr1#"))
	if !ok {
		t.Fatalf("expected a match despite mixed line endings")
	}
	want := "line one\nline two"
	if string(out) != want {
		t.Fatalf("output = %q, want %q", out, want)
	}
}

func TestFeedRequiresAnchorAtEndOfLine(t *testing.T) {
	prompt := regexp.MustCompile(`r1#\s*$`)
	m := New([]*regexp.Regexp{prompt})

	if _, _, ok := m.Feed([]byte("r1# is not the end of this line, more text")); ok {
		t.Fatalf("did not expect a match when prompt text is mid-line")
	}
}

func TestNetconfFramerSplitsOnEOM(t *testing.T) {
	f := NewNetconfFramer()

	hello := "<hello><capabilities/></hello>]]>]]>"
	body, matched, ok := f.Feed([]byte(hello))
	if !ok {
		t.Fatalf("expected EOM match")
	}
	if matched != "]]>]]>" {
		t.Fatalf("unexpected matched marker: %q", matched)
	}
	if string(body) != "<hello><capabilities/></hello>" {
		t.Fatalf("body = %q", body)
	}

	// Restartable: a second message frames independently.
	body2, _, ok := f.Feed([]byte("<rpc-reply>ok</rpc-reply>]]>]]>"))
	if !ok {
		t.Fatalf("expected second EOM match")
	}
	if string(body2) != "<rpc-reply>ok</rpc-reply>" {
		t.Fatalf("second body = %q", body2)
	}
}
