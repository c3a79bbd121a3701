package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func setBuild(t *testing.T, version, commit, date string) {
	t.Helper()
	v, c, d := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })
	Version, Commit, Date = version, commit, date
}

func TestInfo(t *testing.T) {
	tests := []struct {
		name                  string
		version, commit, date string
		want                  string
	}{
		{"dev build", "dev", "unknown", "unknown", "turnstile dev (commit: unknown, built: unknown, "},
		{"release", "1.2.3", "abc1234567890", "2026-01-15", "turnstile 1.2.3 (commit: abc1234, built: 2026-01-15, "},
		{"short commit", "0.1.0", "abc", "2026-02-01", "turnstile 0.1.0 (commit: abc, built: 2026-02-01, "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBuild(t, tt.version, tt.commit, tt.date)
			info := Info()
			assert.Contains(t, info, tt.want)
			assert.Contains(t, info, runtime.GOOS+"/"+runtime.GOARCH)
		})
	}
}

func TestUserAgent(t *testing.T) {
	setBuild(t, "0.4.0", "", "")
	assert.Equal(t, "turnstile/0.4.0", UserAgent())
}

func TestShortTruncatesToSeven(t *testing.T) {
	assert.Equal(t, "abcdefg", short("abcdefghij"))
	assert.Equal(t, "1234567", short("1234567"))
	assert.Equal(t, "", short(""))
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, "dev", Version)
	assert.Equal(t, "unknown", Commit)
	assert.Equal(t, "unknown", Date)
}
