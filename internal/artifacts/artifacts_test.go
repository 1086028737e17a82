package artifacts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

func TestPutGet(t *testing.T) {
	s, err := NewFSStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "sess-1", "report.md", []byte("# Cost Report")))

	content, err := s.Get(ctx, "sess-1", "report.md")
	require.NoError(t, err)
	assert.Equal(t, "# Cost Report", string(content))
}

func TestGetMissing(t *testing.T) {
	s, err := NewFSStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "sess-1", "missing.md")
	require.Error(t, err)
	var serr *schema.Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, schema.ErrCodeNotFound, serr.Code)
}

func TestRejectsTraversal(t *testing.T) {
	s, err := NewFSStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, bad := range []struct{ session, name string }{
		{"../escape", "report.md"},
		{"sess-1", "../../etc/passwd"},
		{"sess/1", "report.md"},
		{"", "report.md"},
		{"sess-1", ""},
	} {
		err := s.Put(ctx, bad.session, bad.name, []byte("x"))
		require.Error(t, err, "%q/%q", bad.session, bad.name)
		var serr *schema.Error
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, schema.ErrCodeValidation, serr.Code)
	}
}
