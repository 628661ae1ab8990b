package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestReplyParser_SingleLine(t *testing.T) {
	var p ReplyParser
	got := p.Feed([]byte("250 OK\r\n"))
	want := []Reply{{StatusCode: 250, Lines: []string{"OK"}, StatusLine: "OK", Success: true}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Feed() mismatch (-want +got):\n%s", diff)
	}
}

func TestReplyParser_MultiLine(t *testing.T) {
	var p ReplyParser
	got := p.Feed([]byte("250-mail.example.com\r\n250-PIPELINING\r\n250 AUTH PLAIN LOGIN\r\n"))
	require.Len(t, got, 1)
	r := got[0]
	require.Equal(t, 250, r.StatusCode)
	require.True(t, r.Success)
	require.Equal(t, []string{"mail.example.com", "PIPELINING", "AUTH PLAIN LOGIN"}, r.Lines)
	require.Equal(t, "AUTH PLAIN LOGIN", r.StatusLine)
}

func TestReplyParser_SplitInvariance(t *testing.T) {
	full := "220 mail.example.com ESMTP ready\r\n250-mail.example.com\r\n250-SIZE 1000000\r\n250 AUTH PLAIN\r\n"

	var whole ReplyParser
	want := whole.Feed([]byte(full))

	splits := [][]int{
		{1, 2, 3},
		{10, 5, 1},
		{len(full) - 1},
		{3, 1, 1, 1, 1},
	}

	for _, lens := range splits {
		var p ReplyParser
		var got []Reply
		rest := []byte(full)
		for _, n := range lens {
			if n > len(rest) {
				n = len(rest)
			}
			got = append(got, p.Feed(rest[:n])...)
			rest = rest[n:]
		}
		got = append(got, p.Feed(rest)...)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("split %v mismatch (-want +got):\n%s", lens, diff)
		}
	}
}

func TestReplyParser_ByteAtATime(t *testing.T) {
	full := []byte("354 Start mail input; end with <CRLF>.<CRLF>\r\n")
	var p ReplyParser
	var got []Reply
	for _, b := range full {
		got = append(got, p.Feed([]byte{b})...)
	}
	require.Len(t, got, 1)
	require.Equal(t, 354, got[0].StatusCode)
	require.False(t, got[0].Success)
}

func TestReplyParser_StatusCodeSplitAcrossChunks(t *testing.T) {
	var p ReplyParser
	got := p.Feed([]byte("25"))
	require.Empty(t, got)
	got = p.Feed([]byte("0"))
	require.Empty(t, got)
	got = p.Feed([]byte(" OK\r\n"))
	require.Len(t, got, 1)
	require.Equal(t, 250, got[0].StatusCode)
}

func TestReplyParser_ContinuationMarkerInSeparateChunk(t *testing.T) {
	var p ReplyParser
	got := p.Feed([]byte("250"))
	require.Empty(t, got)
	got = p.Feed([]byte("-more\r\n250 done\r\n"))
	require.Len(t, got, 1)
	require.Equal(t, []string{"more", "done"}, got[0].Lines)
}

func TestReplyParser_MalformedLine(t *testing.T) {
	var p ReplyParser
	got := p.Feed([]byte("nope\r\n"))
	require.Len(t, got, 1)
	require.Equal(t, 500, got[0].StatusCode)
	require.False(t, got[0].Success)
	require.Equal(t, []string{"nope"}, got[0].Lines)
}

func TestReplyParser_TooShortLine(t *testing.T) {
	var p ReplyParser
	got := p.Feed([]byte("12\r\n"))
	require.Len(t, got, 1)
	require.Equal(t, 500, got[0].StatusCode)
}

func TestReplyParser_MalformedFlushesPending(t *testing.T) {
	var p ReplyParser
	got := p.Feed([]byte("250-partial\r\n"))
	require.Empty(t, got)
	got = p.Feed([]byte("garbled\r\n"))
	require.Len(t, got, 1)
	require.Equal(t, 500, got[0].StatusCode)
	require.Equal(t, []string{"garbled"}, got[0].Lines)
}

func TestReplyParser_Reset(t *testing.T) {
	var p ReplyParser
	p.Feed([]byte("250-partial\r\n"))
	p.Reset()
	// After Reset, the pending "250-partial" continuation is discarded, so
	// this terminator line starts a fresh reply rather than completing the
	// old one.
	got := p.Feed([]byte("250 done\r\n"))
	require.Len(t, got, 1)
	require.Equal(t, []string{"done"}, got[0].Lines)
}

func TestReplyParser_MultipleRepliesInOneChunk(t *testing.T) {
	var p ReplyParser
	got := p.Feed([]byte("250 OK\r\n354 Go ahead\r\n"))
	require.Len(t, got, 2)
	require.Equal(t, 250, got[0].StatusCode)
	require.Equal(t, 354, got[1].StatusCode)
}
