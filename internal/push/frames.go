package push

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// acceptVersions is sent in CONNECT. Spring's broker relay negotiates 1.2.
const acceptVersions = "1.2,1.1,1.0"

// ErrBrokerError is returned when the broker answers with an ERROR frame.
var ErrBrokerError = errors.New("broker sent ERROR frame")

func connectFrame(host, token string, heartbeat time.Duration) *frame.Frame {
	ms := heartbeat.Milliseconds()
	f := frame.New(frame.CONNECT,
		frame.AcceptVersion, acceptVersions,
		frame.Host, host,
		frame.HeartBeat, fmt.Sprintf("%d,%d", ms, ms),
	)
	if token != "" {
		f.Header.Add("Authorization", "Bearer "+token)
	}
	return f
}

func subscribeFrame(id, destination string) *frame.Frame {
	return frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
		frame.Ack, "auto",
	)
}

func disconnectFrame() *frame.Frame {
	return frame.New(frame.DISCONNECT)
}

// encodeFrame renders f as one websocket text message.
func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeFrames splits one websocket message into STOMP frames. A message
// holding only end-of-line bytes is a heart-beat and yields no frames.
func decodeFrames(msg []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(msg))
	var frames []*frame.Frame
	for {
		f, err := r.Read()
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
}

// negotiateHeartbeat applies the STOMP heart-beat rules to the client's
// request (cx outgoing, cy incoming) and the server's CONNECTED header
// (sx outgoing, sy incoming). Zero disables a direction.
func negotiateHeartbeat(client time.Duration, serverHeader string) (outgoing, incoming time.Duration, err error) {
	cx, cy := client, client
	var sx, sy time.Duration
	if strings.TrimSpace(serverHeader) != "" {
		sx, sy, err = frame.ParseHeartBeat(serverHeader)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid heart-beat %q: %w", serverHeader, err)
		}
	}
	return maxOrZero(cx, sy), maxOrZero(cy, sx), nil
}

func maxOrZero(a, b time.Duration) time.Duration {
	if a == 0 || b == 0 {
		return 0
	}
	if a > b {
		return a
	}
	return b
}

func brokerError(f *frame.Frame) error {
	msg := f.Header.Get(frame.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(f.Body))
	}
	if msg == "" {
		return ErrBrokerError
	}
	return fmt.Errorf("%w: %s", ErrBrokerError, msg)
}
