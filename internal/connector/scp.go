package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go-graph-import/internal/model"
	"go-graph-import/pkg/utils"
)

// SCP pulls files from a remote host with the system scp binary in batch mode
type SCP struct {
	Host         string
	User         string
	Port         string
	IdentityFile string
	Timeout      time.Duration

	// Binary and SSHBinary default to "scp" and "ssh".
	Binary    string
	SSHBinary string
}

// NewSCP reads host, user, port, identity_file, timeout, scp_binary and ssh_binary.
func NewSCP(params map[string]string) (Connector, error) {
	if params["host"] == "" {
		return nil, errors.New("scp connector requires host")
	}
	timeout, err := timeoutParam(params)
	if err != nil {
		return nil, err
	}
	s := &SCP{
		Host:         params["host"],
		User:         params["user"],
		Port:         params["port"],
		IdentityFile: params["identity_file"],
		Timeout:      timeout,
		Binary:       params["scp_binary"],
		SSHBinary:    params["ssh_binary"],
	}
	if s.Binary == "" {
		s.Binary = "scp"
	}
	if s.SSHBinary == "" {
		s.SSHBinary = "ssh"
	}
	return s, nil
}

func (s *SCP) target() string {
	if s.User == "" {
		return s.Host
	}
	return s.User + "@" + s.Host
}

func (s *SCP) commonOpts() []string {
	opts := []string{"-o", "BatchMode=yes", "-o", "ConnectTimeout=15"}
	if s.IdentityFile != "" {
		opts = append(opts, "-i", s.IdentityFile)
	}
	return opts
}

func (s *SCP) scpArgs(source, dest string) []string {
	args := []string{"-B", "-q"}
	if s.Port != "" {
		args = append(args, "-P", s.Port)
	}
	args = append(args, s.commonOpts()...)
	return append(args, s.target()+":"+source, dest)
}

func (s *SCP) Fetch(ctx context.Context, source, dest string) (model.FetchResult, error) {
	subject := s.target() + ":" + source
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return model.FetchResult{Error: err.Error()}, fmt.Errorf("prepare destination: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".scp.part")
	defer os.Remove(tmp)

	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Binary, s.scpArgs(source, tmp)...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		res := model.FetchResult{Error: firstNonEmpty(msg, err.Error())}
		return res, s.classify(ctx, subject, msg, started, err)
	}

	size, err := utils.GetFileSize(tmp)
	if err != nil {
		return model.FetchResult{Error: err.Error()}, fetchError(model.CodeTransferError, subject, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return model.FetchResult{Error: err.Error()}, fetchError(model.CodeTransferError, subject, err)
	}
	return model.FetchResult{Success: true, LocalPath: dest, BytesTransferred: size}, nil
}

func (s *SCP) classify(ctx context.Context, subject, stderr string, started time.Time, err error) error {
	if ctx.Err() != nil {
		return interrupted(ctx, subject, started, ctx.Err())
	}
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "host key verification failed"):
		return fetchError(model.CodeAuthFailure, subject, errors.New(stderr))
	case strings.Contains(lower, "no such file"):
		return fetchError(model.CodeNotFound, subject, errors.New(stderr))
	}
	if stderr != "" {
		return fetchError(model.CodeTransferError, subject, fmt.Errorf("%v: %s", err, stderr))
	}
	return fetchError(model.CodeTransferError, subject, err)
}

// TestConnection runs a no-op remote command with a short timeout.
func (s *SCP) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	args := []string{}
	if s.Port != "" {
		args = append(args, "-p", s.Port)
	}
	args = append(args, s.commonOpts()...)
	args = append(args, s.target(), "true")
	return exec.CommandContext(ctx, s.SSHBinary, args...).Run() == nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
