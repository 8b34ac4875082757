package oracle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/nikoclip/nikoclip/internal/logging"
)

// fakeServer answers requests on the far end of a pair of pipes.
type fakeServer struct {
	mu       sync.Mutex
	requests []request
	handle   func(request) response
}

func startFakeServer(t *testing.T, handle func(request) response) (*SubprocessOracle, *fakeServer) {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	srv := &fakeServer{handle: handle}
	go func() {
		defer respW.Close()
		for {
			var req request
			if err := readMessage(reqR, &req); err != nil {
				return
			}
			srv.mu.Lock()
			srv.requests = append(srv.requests, req)
			srv.mu.Unlock()
			if err := writeMessage(respW, srv.handle(req)); err != nil {
				return
			}
		}
	}()

	o := newSubprocessOracle(reqW, respR, logging.Discard())
	t.Cleanup(func() { o.Close() })
	return o, srv
}

func TestSubprocessOracle_DetectFaces(t *testing.T) {
	o, srv := startFakeServer(t, func(req request) response {
		return response{OK: true, Faces: []Detection{
			{Confidence: 0.9, XMin: 0.1, YMin: 0.2, XMax: 0.5, YMax: 0.6},
		}}
	})

	faces, err := o.DetectFaces([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	if err != nil {
		t.Fatalf("DetectFaces() error = %v", err)
	}
	if len(faces) != 1 || faces[0].Confidence != 0.9 || faces[0].XMax != 0.5 {
		t.Errorf("DetectFaces() = %+v", faces)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.requests) != 1 || srv.requests[0].Op != opDetect {
		t.Fatalf("requests = %+v, want one detect", srv.requests)
	}
	if !bytes.Equal(srv.requests[0].Image, []byte{0xFF, 0xD8, 0xFF, 0xD9}) {
		t.Errorf("image = %x, want frame bytes", srv.requests[0].Image)
	}
}

func TestSubprocessOracle_ScoreEmotions(t *testing.T) {
	o, _ := startFakeServer(t, func(req request) response {
		return response{OK: true, Scores: []float64{0.05, 0.8, 0.05, 0.05, 0.05}}
	})

	scores, err := o.ScoreEmotions([]byte("face"))
	if err != nil {
		t.Fatalf("ScoreEmotions() error = %v", err)
	}
	if got := SmileScore(scores); got != 0.8 {
		t.Errorf("SmileScore() = %v, want 0.8", got)
	}
}

func TestSubprocessOracle_ShortScoreVector(t *testing.T) {
	o, _ := startFakeServer(t, func(req request) response {
		return response{OK: true, Scores: []float64{0.5, 0.5}}
	})

	if _, err := o.ScoreEmotions([]byte("face")); err == nil {
		t.Error("ScoreEmotions() should reject a short score vector")
	}
}

func TestSubprocessOracle_ServerError(t *testing.T) {
	o, _ := startFakeServer(t, func(req request) response {
		return response{OK: false, Error: "cannot decode image"}
	})

	_, err := o.DetectFaces([]byte("junk"))
	if err == nil || !strings.Contains(err.Error(), "cannot decode image") {
		t.Errorf("DetectFaces() error = %v, want server message", err)
	}
}

func TestSubprocessOracle_Ping(t *testing.T) {
	o, _ := startFakeServer(t, func(req request) response {
		if req.Op != opPing {
			return response{OK: false, Error: "unexpected op"}
		}
		return response{OK: true, Info: &Info{Version: "1.2.0", Device: "CPU"}}
	})

	info, err := o.Ping()
	if err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if info.Version != "1.2.0" || info.Device != "CPU" {
		t.Errorf("Ping() = %+v", info)
	}
}

func TestSubprocessOracle_ConcurrentCallsAreSerialised(t *testing.T) {
	o, srv := startFakeServer(t, func(req request) response {
		return response{OK: true, Faces: []Detection{{Confidence: float64(len(req.Image))}}}
	})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			faces, err := o.DetectFaces(make([]byte, n))
			if err != nil {
				errs <- err
				return
			}
			if len(faces) != 1 || faces[0].Confidence != float64(n) {
				errs <- errors.New("response paired with the wrong request")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.requests) != 20 {
		t.Errorf("server saw %d requests, want 20", len(srv.requests))
	}
}

func TestSubprocessOracle_ClosedRejectsCalls(t *testing.T) {
	o, _ := startFakeServer(t, func(req request) response {
		return response{OK: true}
	})

	if err := o.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := o.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := o.DetectFaces([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("DetectFaces() after Close error = %v, want ErrClosed", err)
	}
}

func TestReadMessage_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], maxMessageBytes+1)
	buf.Write(prefix[:])

	var resp response
	if err := readMessage(&buf, &resp); err == nil {
		t.Error("readMessage() should reject an oversized length prefix")
	}
}

func TestSmileScore_ShortVector(t *testing.T) {
	if got := SmileScore([]float64{0.9}); got != 0 {
		t.Errorf("SmileScore() = %v, want 0", got)
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	lw.Write([]byte("world12345"))
	if buf.String() != "world12345" {
		t.Errorf("after overflow got %q, want %q", buf.String(), "world12345")
	}
}

func TestResolvePython_PreferredNotFound(t *testing.T) {
	_, err := resolvePython("/nonexistent/python99")
	if err == nil {
		t.Error("expected error for nonexistent python")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("0123456789", 4); got != "...6789" {
		t.Errorf("truncate() = %q, want ...6789", got)
	}
}
