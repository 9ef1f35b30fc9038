package connector

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"go-graph-import/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinary writes a shell script standing in for scp/ssh.
func fakeBinary(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	p := filepath.Join(t.TempDir(), "fake")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return p
}

func newFakeSCP(t *testing.T, body string, timeout string) *SCP {
	t.Helper()
	c, err := NewSCP(map[string]string{
		"host": "files.internal", "user": "etl", "port": "2222", "identity_file": "/keys/id",
		"timeout": timeout, "scp_binary": fakeBinary(t, body), "ssh_binary": fakeBinary(t, body),
	})
	require.NoError(t, err)
	return c.(*SCP)
}

func TestSCP_Args(t *testing.T) {
	s := &SCP{Host: "h", User: "u", Port: "22", IdentityFile: "/k"}
	assert.Equal(t, []string{"-B", "-q", "-P", "22", "-o", "BatchMode=yes", "-o", "ConnectTimeout=15", "-i", "/k", "u@h:/data/x.dat", "/tmp/x"},
		s.scpArgs("/data/x.dat", "/tmp/x"))
}

func TestSCP_FetchSuccess(t *testing.T) {
	// copy a fixed payload to the last argument
	s := newFakeSCP(t, `for last; do :; done; printf 'a|b\n' > "$last"`, "10")
	dest := filepath.Join(t.TempDir(), "raw.dat")
	res, err := s.Fetch(context.Background(), "/data/x.dat", dest)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 4, res.BytesTransferred)
	got, _ := os.ReadFile(dest)
	assert.Equal(t, "a|b\n", string(got))
}

func TestSCP_Classification(t *testing.T) {
	cases := []struct {
		name string
		body string
		code string
	}{
		{"auth", `echo "etl@files.internal: Permission denied (publickey)." >&2; exit 1`, model.CodeAuthFailure},
		{"host key", `echo "Host key verification failed." >&2; exit 1`, model.CodeAuthFailure},
		{"missing", `echo "scp: /data/x.dat: No such file or directory" >&2; exit 1`, model.CodeNotFound},
		{"other", `echo "lost connection" >&2; exit 1`, model.CodeTransferError},
		{"silent", `exit 3`, model.CodeTransferError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newFakeSCP(t, tc.body, "10")
			res, err := s.Fetch(context.Background(), "/data/x.dat", filepath.Join(t.TempDir(), "raw.dat"))
			require.Error(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, model.KindConnectivity, model.KindOf(err))
			assert.Equal(t, tc.code, model.CodeOf(err))
		})
	}
}

func TestSCP_Timeout(t *testing.T) {
	s := newFakeSCP(t, `exec sleep 5`, "1")
	s.Timeout = 200 * time.Millisecond
	_, err := s.Fetch(context.Background(), "/data/x.dat", filepath.Join(t.TempDir(), "raw.dat"))
	require.Error(t, err)
	assert.Equal(t, model.CodeTimeout, model.CodeOf(err))
	assert.True(t, model.IsRetryable(err))
}

func TestSCP_TimeoutReportsCallerDeadline(t *testing.T) {
	s := newFakeSCP(t, `exec sleep 5`, "10")
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := s.Fetch(ctx, "/data/x.dat", filepath.Join(t.TempDir(), "raw.dat"))
	require.Error(t, err)
	assert.Equal(t, model.CodeTimeout, model.CodeOf(err))
	assert.Regexp(t, `no response within (29\d|300)ms`, err.Error())
	assert.NotContains(t, err.Error(), "10s")
}

func TestSCP_TestConnection(t *testing.T) {
	assert.True(t, newFakeSCP(t, `exit 0`, "10").TestConnection(context.Background()))
	assert.False(t, newFakeSCP(t, `exit 255`, "10").TestConnection(context.Background()))
}
