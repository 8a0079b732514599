package boblight

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-ambient-light-control/muxer"
)

func startServer(t *testing.T) (*Server, *muxer.Muxer, net.Conn) {
	t.Helper()
	m := muxer.New(muxer.Config{LEDCount: 3, Logger: zerolog.Nop()})
	s := New(m, "127.0.0.1:0", 128, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.ListenAndServe(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return s.Addr() != nil }, time.Second, 10*time.Millisecond)
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return s, m, conn
}

func TestHandshake(t *testing.T) {
	_, m, conn := startServer(t)
	r := bufio.NewReader(conn)

	fmt.Fprint(conn, "hello\n")
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	fmt.Fprint(conn, "get version\n")
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "version 5\n", line)

	fmt.Fprint(conn, "get lights\n")
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "lights 3\n", line)
	for i := 0; i < 3; i++ {
		light, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(light, "light "))
	}

	// Connecting registered the default priority as an inactive slot.
	require.Eventually(t, func() bool {
		info, ok := m.Input(128)
		return ok && info.Component == muxer.ComponentBoblight && !info.Active()
	}, time.Second, 10*time.Millisecond)
}

func TestSyncPushesColors(t *testing.T) {
	_, m, conn := startServer(t)

	fmt.Fprint(conn, "set light 0 rgb 1.0 0.0 0.0\n")
	fmt.Fprint(conn, "set light 1 rgb 0.0 1.0 0.0\n")
	fmt.Fprint(conn, "sync\n")

	want := []muxer.RGB{{R: 255}, {G: 255}, {}}
	require.Eventually(t, func() bool {
		v := m.Visible()
		return v.Priority == 128 && len(v.Colors) == 3 && v.Colors[0] == want[0] && v.Colors[1] == want[1]
	}, time.Second, 10*time.Millisecond)
}

func TestSetPriorityMovesSlot(t *testing.T) {
	_, m, conn := startServer(t)

	fmt.Fprint(conn, "set priority 64\n")
	fmt.Fprint(conn, "set light 0 rgb 0.0 0.0 1.0\n")
	fmt.Fprint(conn, "sync\n")

	require.Eventually(t, func() bool {
		return m.VisiblePriority() == 64
	}, time.Second, 10*time.Millisecond)
	assert.NotContains(t, m.Priorities(), 128)
}

func TestDisconnectClearsSlot(t *testing.T) {
	_, m, conn := startServer(t)

	fmt.Fprint(conn, "set light 0 rgb 1.0 1.0 1.0\n")
	fmt.Fprint(conn, "sync\n")
	require.Eventually(t, func() bool { return m.VisiblePriority() == 128 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return m.VisiblePriority() == muxer.PriorityLowest
	}, time.Second, 10*time.Millisecond)
}

func TestMalformedLinesIgnored(t *testing.T) {
	_, m, conn := startServer(t)
	r := bufio.NewReader(conn)

	fmt.Fprint(conn, "set light banana rgb 1 1 1\n")
	fmt.Fprint(conn, "gibberish\n")
	fmt.Fprint(conn, "hello\n")

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)
	assert.Equal(t, muxer.PriorityLowest, m.VisiblePriority())
}
