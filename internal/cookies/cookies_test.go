package cookies

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected Jar
	}{
		{
			name:     "simple pairs",
			raw:      "a=1; b=2",
			expected: Jar{"a": "1", "b": "2"},
		},
		{
			name:     "value containing equals is not truncated",
			raw:      "token=abc=def==; plain=x",
			expected: Jar{"token": "abc=def==", "plain": "x"},
		},
		{
			name:     "empty segments skipped",
			raw:      "; a=1;; b=2 ;",
			expected: Jar{"a": "1", "b": "2"},
		},
		{
			name:     "bare word without equals is dropped",
			raw:      "junk; a=1",
			expected: Jar{"a": "1"},
		},
		{
			name:     "empty string",
			raw:      "",
			expected: Jar{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, Parse(tt.raw))
		})
	}
}

func TestMergeSetCookies(t *testing.T) {
	jar := Parse("a=1; session_token=old")

	jar.MergeSetCookies([]string{
		"session_token=new; Path=/; HttpOnly; Secure",
		"extra=v=w=x; Max-Age=300",
	})

	assert.Equal(t, "new", jar["session_token"])
	assert.Equal(t, "1", jar["a"])
	// attributes split only on the first ';', value keeps its '='s
	assert.Equal(t, "v=w=x", jar["extra"])
}

func TestMergeSetCookies_idempotent(t *testing.T) {
	setCookies := []string{
		"session_token=rotated; Path=/",
		"gg_session=abc123; Secure",
	}

	once := Parse("a=1")
	once.MergeSetCookies(setCookies)

	twice := Parse("a=1")
	twice.MergeSetCookies(setCookies)
	twice.MergeSetCookies(setCookies)

	require.Equal(t, once, twice)
}

func TestHeader_stableOrder(t *testing.T) {
	jar := Jar{"b": "2", "a": "1", "c": "3"}
	require.Equal(t, "a=1; b=2; c=3", jar.Header())
}

func TestBearerCandidate_priorityOrder(t *testing.T) {
	long := strings.Repeat("x", 40)

	jar := Jar{
		"session_token": long + "s",
		"access_token":  long + "a",
	}
	v, ok := jar.BearerCandidate()
	require.True(t, ok)
	// access_token outranks session_token regardless of map iteration order
	assert.Equal(t, long+"a", v)
}

func TestBearerCandidate_genericScan(t *testing.T) {
	long := strings.Repeat("y", 30)

	jar := Jar{
		"my_custom_token": long,
		"irrelevant":      long,
	}
	v, ok := jar.BearerCandidate()
	require.True(t, ok)
	assert.Equal(t, long, v)
}

func TestBearerCandidate_rejectsShortValues(t *testing.T) {
	jar := Jar{"auth_token": "short"}
	_, ok := jar.BearerCandidate()
	require.False(t, ok)
}

func TestBearerCandidate_everyRecognizedName(t *testing.T) {
	long := strings.Repeat("z", 25)
	for _, name := range []string{"access_token", "oauth_token", "auth_token", "session_token"} {
		jar := Jar{name: long}
		v, ok := jar.BearerCandidate()
		require.True(t, ok, "name %s should qualify", name)
		assert.Equal(t, long, v)
	}
}

func TestHasSessionCookie(t *testing.T) {
	assert.True(t, Parse("session_token=1").HasSessionCookie())
	assert.True(t, Parse("user_id=42; other=x").HasSessionCookie())
	assert.False(t, Parse("tracking=1; theme=dark").HasSessionCookie())
}

func TestFingerprint_deterministic(t *testing.T) {
	a := Parse("b=2; a=1")
	b := Parse("a=1; b=2")
	require.Equal(t, a.Fingerprint(), b.Fingerprint())
	require.NotEqual(t, a.Fingerprint(), Parse("a=1").Fingerprint())
}
