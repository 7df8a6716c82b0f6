package push

import (
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateHeartbeat(t *testing.T) {
	tests := []struct {
		name         string
		client       time.Duration
		server       string
		wantOutgoing time.Duration
		wantIncoming time.Duration
	}{
		{"server disables both", 4 * time.Second, "0,0", 0, 0},
		{"missing header", 4 * time.Second, "", 0, 0},
		{"client disables", 0, "10000,10000", 0, 0},
		{"server slower wins", 4 * time.Second, "10000,10000", 10 * time.Second, 10 * time.Second},
		{"client slower wins", 4 * time.Second, "1000,1000", 4 * time.Second, 4 * time.Second},
		{"server sends only", 4 * time.Second, "5000,0", 0, 5 * time.Second},
		{"server receives only", 4 * time.Second, "0,2000", 4 * time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, in, err := negotiateHeartbeat(tt.client, tt.server)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutgoing, out, "outgoing")
			assert.Equal(t, tt.wantIncoming, in, "incoming")
		})
	}

	_, _, err := negotiateHeartbeat(time.Second, "abc")
	assert.Error(t, err)
}

func TestDecodeFramesHeartbeat(t *testing.T) {
	frames, err := decodeFrames([]byte("\n"))
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestConnectFrameEncoding(t *testing.T) {
	data, err := encodeFrame(connectFrame("localhost:8080", "abc", 4*time.Second))
	require.NoError(t, err)

	frames, err := decodeFrames(data)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	f := frames[0]
	assert.Equal(t, frame.CONNECT, f.Command)
	assert.Equal(t, "1.2,1.1,1.0", f.Header.Get(frame.AcceptVersion))
	assert.Equal(t, "localhost:8080", f.Header.Get(frame.Host))
	assert.Equal(t, "4000,4000", f.Header.Get(frame.HeartBeat))
	assert.Equal(t, "Bearer abc", f.Header.Get("Authorization"))
}

func TestConnectFrameWithoutToken(t *testing.T) {
	f := connectFrame("h", "", 0)
	_, ok := f.Header.Contains("Authorization")
	assert.False(t, ok)
	assert.Equal(t, "0,0", f.Header.Get(frame.HeartBeat))
}

func TestBrokerErrorMessage(t *testing.T) {
	err := brokerError(frame.New(frame.ERROR, frame.Message, "access denied"))
	assert.ErrorIs(t, err, ErrBrokerError)
	assert.Contains(t, err.Error(), "access denied")

	f := frame.New(frame.ERROR)
	f.Body = []byte("body detail\n")
	assert.Contains(t, brokerError(f).Error(), "body detail")
}
