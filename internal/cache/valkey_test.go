package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeValkey speaks just enough RESP for PING, AUTH, GET, SET and DEL.
type fakeValkey struct {
	ln   net.Listener
	mu   sync.Mutex
	data map[string]string
	auth []string
}

func startFakeValkey(t *testing.T) *fakeValkey {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeValkey{ln: ln, data: make(map[string]string)}
	go f.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeValkey) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeValkey) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		f.mu.Lock()
		switch strings.ToUpper(args[0]) {
		case "PING":
			fmt.Fprint(conn, "+PONG\r\n")
		case "AUTH":
			f.auth = args[1:]
			fmt.Fprint(conn, "+OK\r\n")
		case "SET":
			f.data[args[1]] = args[2]
			fmt.Fprint(conn, "+OK\r\n")
		case "GET":
			v, ok := f.data[args[1]]
			if !ok {
				fmt.Fprint(conn, "$-1\r\n")
			} else {
				fmt.Fprintf(conn, "$%d\r\n%s\r\n", len(v), v)
			}
		case "DEL":
			delete(f.data, args[1])
			fmt.Fprint(conn, ":1\r\n")
		default:
			fmt.Fprintf(conn, "-ERR unknown command %s\r\n", args[0])
		}
		f.mu.Unlock()
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(header, "*") {
		return nil, errors.New("expected array")
	}
	n, err := strconv.Atoi(strings.TrimSpace(header[1:]))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sizeLine, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(sizeLine[1:]))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestValkeyProviderRoundTrip(t *testing.T) {
	srv := startFakeValkey(t)
	ctx := context.Background()

	p, err := NewValkeyProvider(ctx, ValkeyConfig{Addr: srv.ln.Addr().String(), Password: "secret", KeyPrefix: "triage:"})
	require.NoError(t, err)

	_, err = p.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, p.Set(ctx, "k", []byte(`{"is_attack":true}`), time.Minute))
	got, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"is_attack":true}`, string(got))

	srv.mu.Lock()
	_, stored := srv.data["triage:k"]
	auth := append([]string(nil), srv.auth...)
	srv.mu.Unlock()
	assert.True(t, stored, "key prefix should be applied")
	assert.Equal(t, []string{"secret"}, auth)

	require.NoError(t, p.Del(ctx, "k"))
	_, err = p.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestValkeyProviderRequiresAddr(t *testing.T) {
	_, err := NewValkeyProvider(context.Background(), ValkeyConfig{})
	assert.Error(t, err)
}
