package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/observe"
)

// maxAudioBytes matches the upload limit of the transcription endpoint.
const maxAudioBytes = 25 << 20

// maxAnalyzeBytes caps the /api/analyze request body.
const maxAnalyzeBytes = 1 << 20

// handleQuestions returns the catalog in order. Optional role and type query
// parameters apply the same filter as the selection screen.
func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	typ := r.URL.Query().Get("type")

	var (
		questions []model.Question
		err       error
	)
	if role == "" && typ == "" {
		questions, err = h.store.ListQuestions()
	} else {
		if role == "" {
			role = model.AnyRole
		}
		if typ == "" {
			typ = model.AllTypes
		}
		questions, err = h.store.ListQuestionsFiltered(role, typ)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if questions == nil {
		questions = []model.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

type transcribeResponse struct {
	Text string `json:"text"`
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)

	file, header, err := r.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Audio file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No audio file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No audio file")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = model.ContentTypeForFilename(header.Filename)
	}
	log.Info("transcription requested", "file", header.Filename, "bytes", len(data), "content_type", contentType)

	ctx, cancel := h.requestContext(r.Context())
	defer cancel()
	text, err := h.stt.Transcribe(ctx, model.AudioArtifact{Data: data, ContentType: contentType})
	if err != nil {
		log.Error("transcription failed", "error", err, "kind", model.ErrorKind(err))
		status, msg := http.StatusInternalServerError, err.Error()
		var se *model.StatusError
		if errors.As(err, &se) {
			status = se.Status
			if se.Message != "" {
				msg = se.Message
			}
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, transcribeResponse{Text: text})
}

// analyzeBody mirrors model.AnalyzeRequest with pointer fields so that
// missing keys can be told apart from zero values.
type analyzeBody struct {
	Question      *string `json:"question"`
	Answer        *string `json:"answer"`
	Role          *string `json:"role"`
	TimeLimit     *int    `json:"timeLimit"`
	RemainingTime *int    `json:"remainingTime"`
}

func (b analyzeBody) request() (model.AnalyzeRequest, error) {
	var missing []string
	if b.Question == nil {
		missing = append(missing, "question")
	}
	if b.Answer == nil {
		missing = append(missing, "answer")
	}
	if b.Role == nil {
		missing = append(missing, "role")
	}
	if b.TimeLimit == nil {
		missing = append(missing, "timeLimit")
	}
	if b.RemainingTime == nil {
		missing = append(missing, "remainingTime")
	}
	if len(missing) > 0 {
		return model.AnalyzeRequest{}, model.Validationf("missing fields: %s", strings.Join(missing, ", "))
	}
	if *b.TimeLimit < 0 || *b.RemainingTime < 0 {
		return model.AnalyzeRequest{}, model.Validationf("timeLimit and remainingTime must be non-negative")
	}
	return model.AnalyzeRequest{
		Question:      *b.Question,
		Answer:        *b.Answer,
		Role:          *b.Role,
		TimeLimit:     *b.TimeLimit,
		RemainingTime: *b.RemainingTime,
	}, nil
}

type analyzeResponse struct {
	Feedback model.Feedback `json:"feedback"`
}

// handleAnalyze always answers 200 once the request is valid. Upstream and
// parse failures come back as degraded feedback.
func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	var body analyzeBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnalyzeBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	req, err := body.request()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Info("analysis requested", "role", req.Role, "time_limit", req.TimeLimit, "elapsed", req.ElapsedSeconds())

	ctx, cancel := h.requestContext(r.Context())
	defer cancel()
	fb, err := h.llm.Analyze(ctx, req)
	if err != nil {
		log.Error("analysis failed", "error", err, "kind", model.ErrorKind(err))
	}
	writeJSON(w, http.StatusOK, analyzeResponse{Feedback: fb})
}
