package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toitlang/webup/cmd/webup/directory"
	"golang.org/x/net/nettest"
)

// uploadServer is a minimal TCP upload server keeping files in memory.
type uploadServer struct {
	mu    sync.Mutex
	files map[string]int
}

func startUploadServer(t *testing.T) (*uploadServer, string) {
	l, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	s := &uploadServer{files: map[string]int{}}
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go s.serve(c)
		}
	}()
	return s, l.Addr().String()
}

func (s *uploadServer) serve(c net.Conn) {
	defer c.Close()
	fmt.Fprint(c, "=== Controller ===\nType 'help' for available commands\n")
	r := bufio.NewReader(c)
	var path string
	var size, received int
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "upload":
			path = fields[1]
			size, _ = strconv.Atoi(fields[2])
			received = 0
			fmt.Fprintf(c, "READY: Send %d bytes of data using 'data' command\n", size)
		case "data":
			b, _ := base64.StdEncoding.DecodeString(fields[1])
			received += len(b)
			if received < size {
				fmt.Fprintf(c, "RECEIVED: %d/%d bytes\n", received, size)
				continue
			}
			s.mu.Lock()
			s.files[path] = received
			s.mu.Unlock()
			fmt.Fprintf(c, "OK: Uploaded %s (%d bytes)\n", path, size)
		case "list":
			var b strings.Builder
			s.mu.Lock()
			for p := range s.files {
				fmt.Fprintf(&b, "  %s\n", strings.TrimPrefix(p, "/"))
			}
			s.mu.Unlock()
			b.WriteString("Files listed above\n")
			fmt.Fprint(c, b.String())
		}
	}
}

func runWebup(t *testing.T, args ...string) (string, error) {
	t.Setenv(directory.UserConfigPathEnv, filepath.Join(t.TempDir(), "config.yaml"))
	cmd := WebupCmd(Info{Version: "test"}, false)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(SetInfo(context.Background(), Info{Version: "test"}))
	return out.String(), err
}

func TestTCPCommand(t *testing.T) {
	server, address := startUploadServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), bytes.Repeat([]byte("a"), 2500), 0644))

	out, err := runWebup(t, "tcp", address, dir, "--pause", "0s", "--no-progress", "--output", "short")
	require.NoError(t, err)
	assert.Equal(t, "ok /index.html 13\nok /app.js 2500\nmissing "+filepath.Join(dir, "app.css")+"\nmissing "+filepath.Join(dir, "favicon.ico")+"\n", out)
	assert.Equal(t, map[string]int{"/index.html": 13, "/app.js": 2500}, server.files)

	out, err = runWebup(t, "list", "tcp", address, "-o", "short")
	require.NoError(t, err)
	assert.Contains(t, out, "index.html\n")
	assert.Contains(t, out, "Files listed above\n")
}

func TestTCPCommandNoHost(t *testing.T) {
	_, err := runWebup(t, "tcp")
	assert.ErrorContains(t, err, "no address given")
}

func TestTCPCommandConnectionRefused(t *testing.T) {
	l, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	address := l.Addr().String()
	l.Close()

	_, err = runWebup(t, "tcp", address, t.TempDir(), "--connect-timeout", "1s")
	assert.ErrorContains(t, err, "failed to connect")
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cmdWithConfig := func(args ...string) (string, error) {
		cmd := WebupCmd(Info{}, false)
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}
	t.Setenv(directory.UserConfigPathEnv, path)

	_, err := cmdWithConfig("config", "host", "192.168.1.50")
	require.NoError(t, err)
	_, err = cmdWithConfig("config", "baud", "fast")
	assert.ErrorContains(t, err, "invalid baud rate")
	_, err = cmdWithConfig("config", "baud", "9600")
	require.NoError(t, err)

	out, err := cmdWithConfig("config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "host:\t192.168.1.50\n")
	assert.Contains(t, out, "baud:\t9600\n")
	assert.Contains(t, out, "port:\t(not set)\n")

	_, err = cmdWithConfig("config", "unset", "host")
	require.NoError(t, err)
	out, err = cmdWithConfig("config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "host:\t(not set)\n")

	_, err = cmdWithConfig("config", "unset", "color")
	assert.ErrorContains(t, err, "unknown config key")
}

func TestVersionCommand(t *testing.T) {
	cmd := VersionCmd(Info{Version: "v1.2.3", Date: "2026-10-14"}, true)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "Version:\tv1.2.3\nBuild date:\t2026-10-14\n", out.String())
}
