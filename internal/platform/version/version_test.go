package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestUserAgent(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = oldVersion, oldCommit })

	Version = "1.2.3"
	Commit = "0123456789abcdef"
	assert.Equal(t, "streamnotify/1.2.3 (+0123456)", UserAgent())

	Commit = "abc"
	assert.Equal(t, "streamnotify/1.2.3 (+abc)", UserAgent())
}
