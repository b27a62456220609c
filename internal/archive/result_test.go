package archive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrogate/autopkgtest-gate/internal/archive"
)

func TestStatusOrdering(t *testing.T) {
	order := []archive.Status{
		archive.Pass, archive.Neutral, archive.Fail,
		archive.OldPass, archive.OldNeutral, archive.OldFail, archive.None,
	}

	for i := 0; i < len(order)-1; i++ {
		assert.True(t, order[i].Less(order[i+1]), "%s should be less than %s", order[i], order[i+1])
		assert.False(t, order[i+1].Less(order[i]))
	}
}

func TestStatusAged(t *testing.T) {
	assert.Equal(t, archive.OldPass, archive.Pass.Aged())
	assert.Equal(t, archive.OldNeutral, archive.Neutral.Aged())
	assert.Equal(t, archive.OldFail, archive.Fail.Aged())
	assert.Equal(t, archive.None, archive.None.Aged())
	assert.Equal(t, archive.OldFail, archive.OldFail.Aged())
}

func TestParseTrigger(t *testing.T) {
	trig, err := archive.ParseTrigger("foo/2.0")
	require.NoError(t, err)
	assert.Equal(t, "foo", trig.Source)
	assert.Equal(t, "2.0", trig.Version)
	assert.Equal(t, "foo/2.0", trig.String())

	_, err = archive.ParseTrigger("no-slash-here")
	require.ErrorIs(t, err, archive.ErrMalformedTrigger)

	_, err = archive.ParseTrigger("/2.0")
	require.ErrorIs(t, err, archive.ErrMalformedTrigger)
}

func TestTriggerIsReference(t *testing.T) {
	trig, err := archive.ParseTrigger(archive.ReferenceTrigger)
	require.NoError(t, err)
	assert.True(t, trig.IsReference())

	trig2, err := archive.ParseTrigger("foo/2.0")
	require.NoError(t, err)
	assert.False(t, trig2.IsReference())
}

func TestSrchash(t *testing.T) {
	assert.Equal(t, "libf", archive.Srchash("libfoo"))
	assert.Equal(t, "z", archive.Srchash("zsh"))
	assert.Equal(t, "lib", archive.Srchash("lib"))
	assert.Equal(t, "", archive.Srchash(""))
}

func TestTestRequestPrimaryTrigger(t *testing.T) {
	req := archive.TestRequest{Triggers: []string{"foo/2.0", "bar/1.0"}}
	assert.Equal(t, "foo/2.0", req.PrimaryTrigger())

	empty := archive.TestRequest{}
	assert.Equal(t, "", empty.PrimaryTrigger())
}
