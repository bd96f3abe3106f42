package bridge

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/commlink/internal/config"
	"github.com/1ureka/commlink/internal/protocol"
	"github.com/1ureka/commlink/internal/session"
	"github.com/1ureka/commlink/internal/transport"
)

const testTimeout = 10 * time.Millisecond

// startBridge serves one end of a pipe and returns the other end, standing in
// for the physical device, plus the client URL.
func startBridge(t *testing.T) (*Server, transport.Transport, string) {
	t.Helper()
	local, device := transport.Pipe(testTimeout)

	srv := NewServer(local, "1234")
	addr, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
		local.Close()
	})
	return srv, device, fmt.Sprintf("ws://%s/ws?pin=%s", addr, srv.PIN())
}

func readN(t *testing.T, tr transport.Transport, n int) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	out := make([]byte, 0, n)
	buf := make([]byte, 64)
	for len(out) < n {
		require.True(t, time.Now().Before(deadline), "timed out, got %q", out)
		k, err := tr.Read(buf[:min(len(buf), n-len(out))])
		require.NoError(t, err)
		out = append(out, buf[:k]...)
	}
	return out
}

func TestRelayBothDirections(t *testing.T) {
	srv, device, url := startBridge(t)

	client, err := transport.DialWebSocket(context.Background(), url, testTimeout)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, transport.WriteAll(client, []byte("to-device")))
	require.Equal(t, "to-device", string(readN(t, device, 9)))

	require.NoError(t, transport.WriteAll(device, []byte("to-client")))
	require.Equal(t, "to-client", string(readN(t, client, 9)))

	require.Eventually(t, func() bool {
		snap := srv.Counters().Snapshot()
		return snap.BytesSent == 9 && snap.BytesRecv == 9
	}, time.Second, testTimeout)
	require.Zero(t, srv.Counters().Snapshot().FramesSent)
}

func TestRejectsInvalidPIN(t *testing.T) {
	_, _, url := startBridge(t)

	_, resp, err := websocket.DefaultDialer.Dial(url[:len(url)-4]+"0000", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestSingleClient verifies a second client is turned away while the first
// is connected, and admitted once the first leaves.
func TestSingleClient(t *testing.T) {
	_, device, url := startBridge(t)

	first, err := transport.DialWebSocket(context.Background(), url, testTimeout)
	require.NoError(t, err)
	require.NoError(t, transport.WriteAll(first, []byte("a")))
	require.Equal(t, "a", string(readN(t, device, 1)))

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_, _, err = second.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	second.Close()

	require.NoError(t, first.Close())

	var third transport.Transport
	require.Eventually(t, func() bool {
		tr, err := transport.DialWebSocket(context.Background(), url, testTimeout)
		if err != nil {
			return false
		}
		if err := transport.WriteAll(tr, []byte("b")); err != nil {
			tr.Close()
			return false
		}
		buf := make([]byte, 1)
		for i := 0; i < 20; i++ {
			if n, _ := device.Read(buf); n == 1 {
				third = tr
				return true
			}
		}
		tr.Close()
		return false
	}, 3*time.Second, 50*time.Millisecond)
	third.Close()
}

// TestSessionOverBridge runs a full session against the bridge through the
// ws:// port scheme.
func TestSessionOverBridge(t *testing.T) {
	_, device, url := startBridge(t)

	s, err := session.Open(context.Background(), config.Config{Port: url, ReadTimeout: testTimeout})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write([]string{"H", "i"}))
	require.Equal(t, []byte{protocol.Preamble, 'H', 'i', protocol.Escape}, readN(t, device, 4))

	require.NoError(t, transport.WriteAll(device, protocol.NewCodec().Encode([]byte("yo"))))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := s.Receive().Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "yo", string(msg))
}

func TestServeStopsWhenDeviceCloses(t *testing.T) {
	local, device := transport.Pipe(testTimeout)
	srv := NewServer(local, "")
	addr, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background()) }()

	client, err := transport.DialWebSocket(context.Background(),
		fmt.Sprintf("ws://%s/ws?pin=%s", addr, srv.PIN()), testTimeout)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, device.Close())
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrDevice)
		require.True(t, transport.IsClosed(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the device closed")
	}
}

// TestServeStopsWhenDeviceClosesWithoutClient verifies an idle bridge
// notices the device going away instead of waiting for a client forever.
func TestServeStopsWhenDeviceClosesWithoutClient(t *testing.T) {
	local, device := transport.Pipe(testTimeout)
	srv := NewServer(local, "")
	_, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, device.Close())
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrDevice)
		require.True(t, transport.IsClosed(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the device closed with no client attached")
	}
}

// TestDeviceBytesHeldForNextClient verifies device output produced while no
// client is attached, including after a client leaves, reaches the next one.
func TestDeviceBytesHeldForNextClient(t *testing.T) {
	srv, device, url := startBridge(t)

	require.NoError(t, transport.WriteAll(device, []byte("early")))
	time.Sleep(50 * time.Millisecond)

	first, err := transport.DialWebSocket(context.Background(), url, testTimeout)
	require.NoError(t, err)
	require.Equal(t, "early", string(readN(t, first, 5)))
	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return !srv.busy.Load() }, 2*time.Second, testTimeout)

	require.NoError(t, transport.WriteAll(device, []byte("late")))
	time.Sleep(50 * time.Millisecond)

	second, err := transport.DialWebSocket(context.Background(), url, testTimeout)
	require.NoError(t, err)
	defer second.Close()
	require.Equal(t, "late", string(readN(t, second, 4)))
}

func TestHoldCapsBacklog(t *testing.T) {
	srv := NewServer(transport.NewLoopback(testTimeout), "0000")

	srv.hold([]byte("old"))
	big := make([]byte, maxBacklog)
	big[len(big)-1] = 'z'
	srv.hold(big)

	require.Len(t, srv.backlog, maxBacklog)
	require.Equal(t, byte('z'), srv.backlog[maxBacklog-1])
}

func TestGeneratePIN(t *testing.T) {
	for i := 0; i < 20; i++ {
		pin := GeneratePIN(4)
		require.Len(t, pin, 4)
		for _, c := range pin {
			require.True(t, c >= '0' && c <= '9', "pin %q", pin)
		}
	}
	require.Len(t, NewServer(transport.NewLoopback(testTimeout), "").PIN(), 4)
}
