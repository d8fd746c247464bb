package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testJobInfo struct {
	WorkDir string
}

func TestStoreAndRetrieve(t *testing.T) {
	c := New[testJobInfo]()
	c.Store(
		"some-job-id",
		testJobInfo{
			WorkDir: "/tmp/recap/some-job-id",
		},
	)
	require.Equal(t, "/tmp/recap/some-job-id", c.Get("some-job-id").WorkDir)
}

func TestStoreAndRemove(t *testing.T) {
	c := New[testJobInfo]()
	c.Store(
		"some-job-id",
		testJobInfo{
			WorkDir: "/tmp/recap/some-job-id",
		},
	)
	require.Equal(t, "/tmp/recap/some-job-id", c.Get("some-job-id").WorkDir)

	c.Remove("some-job-id")
	require.Equal(t, "", c.Get("some-job-id").WorkDir)
}
