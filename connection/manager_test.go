package connection

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-state/api"
	"github.com/momentics/hioload-state/table"
)

type disconnect struct {
	fd      int
	code    int
	message string
}

type push struct {
	fd      int
	payload string
}

// fakeTransport records calls. Descriptors in dead are not established,
// descriptors in broken fail on push.
type fakeTransport struct {
	mu          sync.Mutex
	dead        map[int]bool
	broken      map[int]bool
	pushes      []push
	disconnects []disconnect
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dead: map[int]bool{}, broken: map[int]bool{}}
}

func (f *fakeTransport) Push(fd int, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[fd] {
		return errors.New("broken pipe")
	}
	f.pushes = append(f.pushes, push{fd, string(payload)})
	return nil
}

func (f *fakeTransport) IsEstablished(fd int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead[fd]
}

func (f *fakeTransport) Disconnect(fd, code int, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, disconnect{fd, code, message})
	return nil
}

func (f *fakeTransport) kill(fds ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fd := range fds {
		f.dead[fd] = true
	}
}

// paramAuth takes the identity from the first parameter.
var paramAuth = api.AuthenticatorFunc(func(_ api.Request, params ...any) (string, error) {
	if len(params) == 0 {
		return "", api.NewAuthError(4001, "unauthorized")
	}
	return fmt.Sprint(params[0]), nil
})

func newManager(t *testing.T, auth api.Authenticator) (*Manager, *fakeTransport) {
	t.Helper()
	return newManagerOn(t, auth, newTable(t, 32, DefaultColumnSize))
}

func newManagerOn(t *testing.T, auth api.Authenticator, ct *Table) (*Manager, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	m, err := NewManager(auth, ct, tr, zerolog.Nop())
	require.NoError(t, err)
	return m, tr
}

// locals maps the descriptors m holds for identity back to its transport.
func locals(m *Manager, identity string) []int {
	out := []int{}
	for _, fd := range m.Connections(identity) {
		if m.Owns(fd) {
			out = append(out, LocalOf(fd))
		}
	}
	return out
}

func TestRegister_RecordsDescriptor(t *testing.T) {
	m, tr := newManager(t, paramAuth)

	id, ok := m.Register(api.Request{FD: 5}, "u1")
	require.True(t, ok)
	assert.Equal(t, "u1", id)

	_, ok = m.Register(api.Request{FD: 6}, "u1")
	require.True(t, ok)
	assert.Equal(t, []int{m.Descriptor(5), m.Descriptor(6)}, m.Connections("u1"))
	assert.Equal(t, []int{5, 6}, locals(m, "u1"))
	assert.Empty(t, tr.disconnects)
}

func TestRegister_Idempotent(t *testing.T) {
	m, _ := newManager(t, paramAuth)

	for i := 0; i < 3; i++ {
		_, ok := m.Register(api.Request{FD: 9}, "u1")
		require.True(t, ok)
	}
	assert.Equal(t, []int{9}, locals(m, "u1"))
	assert.Equal(t, 1, m.ConnectionsAmount())
}

func TestRegister_RejectionDisconnects(t *testing.T) {
	m, tr := newManager(t, paramAuth)
	m.Register(api.Request{FD: 1}, "u1")

	id, ok := m.Register(api.Request{FD: 2})
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Equal(t, []disconnect{{2, 4001, "unauthorized"}}, tr.disconnects)
	assert.Equal(t, []int{1}, locals(m, "u1"))
	assert.Equal(t, 1, m.Table().Count())
}

func TestRegister_WrappedAuthError(t *testing.T) {
	auth := api.AuthenticatorFunc(func(api.Request, ...any) (string, error) {
		return "", fmt.Errorf("token check: %w", api.NewAuthError(4003, "forbidden"))
	})
	m, tr := newManager(t, auth)

	_, ok := m.Register(api.Request{FD: 3})
	assert.False(t, ok)
	assert.Equal(t, []disconnect{{3, 4003, "forbidden"}}, tr.disconnects)
}

func TestRegister_UnexpectedFailureClosesWithInternalError(t *testing.T) {
	auth := api.AuthenticatorFunc(func(api.Request, ...any) (string, error) {
		return "", errors.New("backend down")
	})
	m, tr := newManager(t, auth)

	_, ok := m.Register(api.Request{FD: 4})
	assert.False(t, ok)
	assert.Equal(t, []disconnect{{4, api.CloseInternalError, "internal error"}}, tr.disconnects)
}

func TestRegister_InvalidDescriptor(t *testing.T) {
	m, tr := newManager(t, paramAuth)

	_, ok := m.Register(api.Request{FD: -1}, "u1")
	assert.False(t, ok)
	assert.Equal(t, []disconnect{{-1, api.CloseInternalError, "internal error"}}, tr.disconnects)
	assert.Zero(t, m.Table().Count())
}

func TestRegister_UnstorableIdentityDisconnects(t *testing.T) {
	m, tr := newManager(t, paramAuth)
	long := strings.Repeat("x", table.KeyMaxLen+1)

	id, ok := m.Register(api.Request{FD: 7}, long)
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Equal(t, []disconnect{{7, api.CloseInternalError, "internal error"}}, tr.disconnects)
	assert.Zero(t, m.ConnectionsAmount())
}

func TestRegister_FullTableDisconnects(t *testing.T) {
	m, tr := newManagerOn(t, paramAuth, newTable(t, 1, DefaultColumnSize))

	_, ok := m.Register(api.Request{FD: 1}, "u1")
	require.True(t, ok)
	_, ok = m.Register(api.Request{FD: 2}, "u2")
	assert.False(t, ok)
	assert.Equal(t, []disconnect{{2, api.CloseInternalError, "internal error"}}, tr.disconnects)
	assert.Equal(t, []int{}, m.Connections("u2"))

	_, ok = m.Register(api.Request{FD: 3}, "u1")
	assert.True(t, ok, "existing identities still accept connections")
	assert.Equal(t, []int{1, 3}, locals(m, "u1"))
}

func TestPush_PrunesDeadAndSendsInOrder(t *testing.T) {
	m, tr := newManager(t, paramAuth)
	for _, fd := range []int{10, 11, 12, 13} {
		m.Register(api.Request{FD: fd}, "u1")
	}
	tr.kill(11, 13)

	m.Push("u1", []byte("hello"))

	assert.Equal(t, []push{{10, "hello"}, {12, "hello"}}, tr.pushes)
	assert.Equal(t, []int{10, 12}, locals(m, "u1"))
}

func TestPush_FailureDoesNotBlockOthers(t *testing.T) {
	m, tr := newManager(t, paramAuth)
	for _, fd := range []int{1, 2, 3} {
		m.Register(api.Request{FD: fd}, "u1")
	}
	tr.broken[2] = true

	m.Push("u1", []byte("x"))

	assert.Equal(t, []push{{1, "x"}, {3, "x"}}, tr.pushes)
	assert.Equal(t, []int{1, 2, 3}, locals(m, "u1"), "send failures are not pruned")
}

func TestPush_UnknownIdentity(t *testing.T) {
	m, tr := newManager(t, paramAuth)
	m.Push("ghost", []byte("x"))
	assert.Empty(t, tr.pushes)
	assert.Equal(t, 0, m.Table().Count())
}

func TestWorkers_SharedSegmentKeepDescriptorsApart(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file-backed segments need mmap")
	}
	path := filepath.Join(t.TempDir(), "conns")
	open := func() *Table {
		ct, err := NewTable(Config{Capacity: 8, Segment: path})
		require.NoError(t, err)
		t.Cleanup(func() { _ = ct.Close() })
		return ct
	}
	a, ta := newManagerOn(t, paramAuth, open())
	b, tb := newManagerOn(t, paramAuth, open())
	require.NotEqual(t, a.Worker(), b.Worker())

	// Both transports number their sockets from 1.
	_, ok := a.Register(api.Request{FD: 1}, "u1")
	require.True(t, ok)
	_, ok = b.Register(api.Request{FD: 1}, "u1")
	require.True(t, ok)
	_, ok = a.Register(api.Request{FD: 2}, "u1")
	require.True(t, ok)
	require.Equal(t, []int{a.Descriptor(1), b.Descriptor(1), a.Descriptor(2)}, b.Connections("u1"))

	// a's socket 2 is unknown to b's transport; b must not prune it.
	tb.kill(2)
	b.Push("u1", []byte("from b"))
	assert.Equal(t, []push{{1, "from b"}}, tb.pushes)
	assert.Len(t, a.Connections("u1"), 3)

	ta.kill(1)
	a.Push("u1", []byte("from a"))
	assert.Equal(t, []push{{2, "from a"}}, ta.pushes)
	assert.Equal(t, []int{b.Descriptor(1), a.Descriptor(2)}, b.Connections("u1"))
	assert.Equal(t, 2, b.ConnectionsAmount())
}

func TestRegister_ConcurrentSameIdentity(t *testing.T) {
	m, _ := newManager(t, paramAuth)

	var wg conc.WaitGroup
	for fd := 0; fd < 50; fd++ {
		wg.Go(func() {
			_, ok := m.Register(api.Request{FD: fd}, "shared")
			assert.True(t, ok)
		})
	}
	wg.Wait()

	assert.ElementsMatch(t, seq(50), locals(m, "shared"))
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
