package broker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrogate/autopkgtest-gate/internal/broker"
)

func TestResolveQueuePrecedence(t *testing.T) {
	assert.Equal(t, broker.QueuePPA, broker.ResolveQueue([]string{"my-ppa"}, true))
	assert.Equal(t, broker.QueueHuge, broker.ResolveQueue(nil, true))
	assert.Equal(t, broker.QueuePlain, broker.ResolveQueue(nil, false))
}

func TestIsObjectStoreURL(t *testing.T) {
	assert.False(t, broker.IsObjectStoreURL("file:///var/lib/adt/results.json"))
	assert.True(t, broker.IsObjectStoreURL("https://swift.example.org"))
}

func TestFileSinkPublishAppendsLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.log")
	sink := &broker.FileSink{Path: path}

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	req := broker.NewRequest("foo", broker.QueueHuge, []string{"foo/2.0"}, nil, now)

	require.NoError(t, sink.Publish(context.Background(), req))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "huge:foo ")
	assert.Contains(t, string(contents), `"foo/2.0"`)
}

func TestFileSinkPublishAppendsMultipleLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.log")
	sink := &broker.FileSink{Path: path}

	now := time.Now()
	require.NoError(t, sink.Publish(context.Background(), broker.NewRequest("foo", "", []string{"foo/2.0"}, nil, now)))
	require.NoError(t, sink.Publish(context.Background(), broker.NewRequest("bar", "", []string{"bar/1.0"}, nil, now)))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, len(splitLines(string(contents))))
}

func splitLines(s string) []string {
	var lines []string

	start := 0

	for i, c := range s {
		if c == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}

			start = i + 1
		}
	}

	return lines
}
