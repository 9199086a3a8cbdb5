package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/pavelanni/interviewer/internal/annotation"
	"github.com/pavelanni/interviewer/internal/capture"
	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/observe"
	"github.com/pavelanni/interviewer/internal/session"
)

const (
	// maxFrameBytes bounds a single websocket frame, text or audio chunk.
	maxFrameBytes = 1 << 20
	writeTimeout  = 10 * time.Second
)

// command is a client action sent as a text frame.
type command struct {
	Action      string `json:"action"`
	Role        string `json:"role,omitempty"`
	Type        string `json:"type,omitempty"`
	ID          string `json:"id,omitempty"`
	Seconds     int    `json:"seconds,omitempty"`
	Text        string `json:"text,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// serverMessage is sent to the client as a text frame.
type serverMessage struct {
	Type      string            `json:"type"`
	Snapshot  *session.Snapshot `json:"snapshot,omitempty"`
	Annotated []annotation.Span `json:"annotated,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func snapshotMessage(s session.Snapshot) serverMessage {
	msg := serverMessage{Type: "snapshot", Snapshot: &s}
	if s.Feedback != nil {
		msg.Annotated = annotation.Split(s.Feedback.AnnotatedAnswer)
	}
	return msg
}

func errorMessage(err error) serverMessage {
	return serverMessage{Type: "error", Kind: model.ErrorKind(err), Error: err.Error()}
}

// outbox coalesces snapshots so a slow client never blocks the state
// machine. Only the newest snapshot is kept; errors are queued in order.
type outbox struct {
	mu     sync.Mutex
	latest *session.Snapshot
	errs   []serverMessage
	notify chan struct{}
}

func newOutbox() *outbox {
	return &outbox{notify: make(chan struct{}, 1)}
}

func (o *outbox) snapshot(s session.Snapshot) {
	o.mu.Lock()
	if o.latest == nil || s.Version >= o.latest.Version {
		o.latest = &s
	}
	o.mu.Unlock()
	o.wake()
}

func (o *outbox) error(err error) {
	o.mu.Lock()
	o.errs = append(o.errs, errorMessage(err))
	o.mu.Unlock()
	o.wake()
}

func (o *outbox) wake() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// drain returns the pending messages, errors first.
func (o *outbox) drain() []serverMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.errs
	o.errs = nil
	if o.latest != nil {
		msgs = append(msgs, snapshotMessage(*o.latest))
		o.latest = nil
	}
	return msgs
}

func (o *outbox) run(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.notify:
		}
		for _, msg := range o.drain() {
			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("marshal %s message: %w", msg.Type, err)
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// originPatterns converts the CORS origin list into websocket host
// patterns.
func (h *Handler) originPatterns() []string {
	var patterns []string
	for _, o := range h.config.AllowedOrigins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}

// handleSession runs one practice session over a websocket. Text frames
// carry commands, binary frames carry audio chunks for the active
// recording. Every state change is pushed back as a snapshot.
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	cat, err := h.store.Catalog()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns(),
	})
	if err != nil {
		log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.metrics.ActiveSessions.Add(ctx, 1)
	defer h.metrics.ActiveSessions.Add(context.Background(), -1)

	out := newOutbox()
	source := capture.NewStreamSource(model.ContentTypeWebM)
	m, err := session.New(session.Options{
		Catalog:        cat,
		Recorder:       capture.NewController(source),
		Transcriber:    h.stt,
		Analyzer:       h.llm,
		RequestTimeout: h.config.RequestTimeout,
		OnChange:       out.snapshot,
		Logger:         log,
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	defer m.Close()

	log.Info("practice session started")
	out.snapshot(m.Snapshot())

	writeDone := make(chan error, 1)
	go func() { writeDone <- out.run(ctx, conn) }()

	err = h.readLoop(ctx, conn, m, source, out)
	cancel()
	if werr := <-writeDone; werr != nil && !errors.Is(werr, context.Canceled) {
		log.Debug("websocket write ended", "error", werr)
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		log.Info("practice session ended")
	default:
		log.Info("practice session ended", "error", err)
	}
	conn.Close(websocket.StatusNormalClosure, "session closed")
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, m *session.Machine, source *capture.StreamSource, out *outbox) error {
	log := observe.Logger(ctx)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			// Chunks arriving after a stop are expected and dropped.
			if err := source.Feed(data); err != nil {
				log.Debug("dropping audio chunk", "bytes", len(data), "error", err)
			}
			continue
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			out.error(model.Validationf("invalid command: %v", err))
			continue
		}
		if err := dispatch(ctx, m, source, cmd); err != nil {
			log.Debug("command refused", "action", cmd.Action, "error", err)
			out.error(err)
		}
	}
}

func dispatch(ctx context.Context, m *session.Machine, source *capture.StreamSource, cmd command) error {
	switch cmd.Action {
	case "select_role":
		return m.SelectRole(cmd.Role)
	case "select_type":
		return m.SelectType(cmd.Type)
	case "select_question":
		return m.SelectQuestion(cmd.ID)
	case "set_time_limit":
		return m.SetTimeLimit(cmd.Seconds)
	case "start_practice":
		return m.StartPractice()
	case "set_answer":
		return m.SetAnswer(cmd.Text)
	case "start_capture":
		source.SetContentType(cmd.ContentType)
		return m.StartCapture(ctx)
	case "stop_capture":
		return m.StopCapture()
	case "submit":
		return m.SubmitForAnalysis(cmd.Text)
	case "cancel":
		return m.Cancel()
	case "reset":
		return m.Reset()
	case "retry":
		return m.Retry()
	default:
		return model.Validationf("unknown action %q", cmd.Action)
	}
}
