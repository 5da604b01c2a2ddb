package upload

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeController plays the device side of both protocols. The zero value
// behaves like the firmware; the hooks override single replies.
type fakeController struct {
	mu    sync.Mutex
	files map[string][]byte
	// chunks records the length of every 'data' line payload.
	chunks []int
	// commands records every command line.
	commands []string
	// payloads counts raw payload writes seen by the serial protocol.
	payloads int

	welcome []string
	// ready replaces the ready signal when set.
	ready string
	// ack returns the reply for the n-th chunk (1-based). Returning "" falls
	// back to the firmware behaviour.
	ack func(n int, received, size int) string
	// final is sent after the last chunk when set, in addition to the ack.
	final string
	// result replaces the serial upload result when set.
	result string
}

func newFakeController() *fakeController {
	return &fakeController{files: map[string][]byte{}}
}

func (f *fakeController) Files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []string
	for p := range f.files {
		res = append(res, p)
	}
	sort.Strings(res)
	return res
}

func (f *fakeController) Chunks() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.chunks...)
}

func (f *fakeController) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeController) record(cmd string) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
}

// pipe returns the client end of a connection served by f.
func (f *fakeController) pipe(t *testing.T, serve func(io.ReadWriter)) *Conn {
	client, device := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		serve(device)
	}()
	t.Cleanup(func() {
		client.Close()
		device.Close()
		<-done
	})
	return NewNetConn(client)
}

func (f *fakeController) serveSerial(rw io.ReadWriter) {
	r := bufio.NewReader(rw)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		f.record(line)
		fields := strings.Fields(line)
		switch {
		case len(fields) == 3 && fields[0] == "UPLOAD":
			size, err := strconv.Atoi(fields[2])
			if err != nil {
				fmt.Fprintf(rw, "ERROR bad size\n")
				continue
			}
			ready := "READY"
			if f.ready != "" {
				ready = f.ready
			}
			if _, err := fmt.Fprintf(rw, "%s\n", ready); err != nil {
				return
			}
			if ready != "READY" {
				continue
			}
			data := make([]byte, size)
			if _, err := io.ReadFull(r, data); err != nil {
				return
			}
			f.mu.Lock()
			f.files[fields[1]] = data
			f.payloads++
			f.mu.Unlock()
			result := fmt.Sprintf("OK %d", size)
			if f.result != "" {
				result = f.result
			}
			if _, err := fmt.Fprintf(rw, "%s\n", result); err != nil {
				return
			}
		case line == "LIST":
			for _, p := range f.Files() {
				if _, err := fmt.Fprintf(rw, "%s\n", p); err != nil {
					return
				}
			}
		default:
			fmt.Fprintf(rw, "ERROR unknown command\n")
		}
	}
}

func (f *fakeController) serveTCP(rw io.ReadWriter) {
	welcome := f.welcome
	if welcome == nil {
		welcome = []string{"=== Pico 2 W Hydroponic Controller ===", "Type 'help' for available commands"}
	}
	for _, w := range welcome {
		if _, err := fmt.Fprintf(rw, "%s\n", w); err != nil {
			return
		}
	}

	r := bufio.NewReader(rw)
	var path string
	var size int
	var buf []byte
	uploading := false
	n := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		cmd, args, _ := strings.Cut(line, " ")
		if cmd != "data" {
			f.record(line)
		}

		var reply string
		switch cmd {
		case "upload":
			fields := strings.Fields(args)
			if len(fields) != 2 {
				reply = "ERROR: upload command requires path and size"
				break
			}
			size, err = strconv.Atoi(fields[1])
			if err != nil || size == 0 {
				reply = "ERROR: File size must be between 1 and 1048576 bytes"
				break
			}
			path, buf, uploading, n = fields[0], nil, true, 0
			reply = fmt.Sprintf("READY: Send %d bytes of data using 'data' command", size)
			if f.ready != "" {
				reply = f.ready
				uploading = false
			}
		case "data":
			if !uploading {
				reply = "ERROR: No upload in progress"
				break
			}
			n++
			f.mu.Lock()
			f.chunks = append(f.chunks, len(args))
			f.mu.Unlock()
			decoded, err := base64.StdEncoding.DecodeString(args)
			if err != nil {
				reply = "ERROR: bad base64"
				break
			}
			buf = append(buf, decoded...)
			complete := len(buf) >= size
			if complete {
				f.mu.Lock()
				f.files[path] = buf
				f.mu.Unlock()
				uploading = false
				reply = fmt.Sprintf("OK: Uploaded %s (%d bytes)", path, size)
			} else {
				reply = fmt.Sprintf("RECEIVED: %d/%d bytes", len(buf), size)
			}
			if f.ack != nil {
				if override := f.ack(n, len(buf), size); override != "" {
					reply = override
				}
			}
			if complete && f.final != "" {
				if _, err := fmt.Fprintf(rw, "%s\n", reply); err != nil {
					return
				}
				reply = f.final
			}
		case "list":
			var b strings.Builder
			for _, p := range f.Files() {
				fmt.Fprintf(&b, "  %s\n", strings.TrimPrefix(p, "/"))
			}
			b.WriteString("Files listed above")
			reply = b.String()
		default:
			reply = "ERROR: Unknown command"
		}
		if _, err := fmt.Fprintf(rw, "%s\n", reply); err != nil {
			return
		}
	}
}

// serialTarget serves every dial from f over a pipe.
func (f *fakeController) serialTarget(t *testing.T) Target {
	return Target{
		Transport: "serial",
		Address:   "/dev/fake",
		Framing:   RawFraming{},
		Dial: func(ctx context.Context) (Transport, error) {
			return f.pipe(t, f.serveSerial), nil
		},
	}
}

// tcpTarget serves every dial from f over a fresh pipe, greeting like the
// firmware does.
func (f *fakeController) tcpTarget(t *testing.T) Target {
	return Target{
		Transport: "tcp",
		Address:   "192.0.2.1:47293",
		Framing:   ChunkedFraming{ChunkSize: DefaultChunkSize},
		PerFile:   true,
		Dial: func(ctx context.Context) (Transport, error) {
			conn := f.pipe(t, f.serveTCP)
			if err := readWelcome(ctx, conn, DefaultReadTimeout, DefaultWelcomeWindow); err != nil {
				return nil, err
			}
			return conn, nil
		},
	}
}
