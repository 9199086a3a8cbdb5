package model

import (
	"math"
	"path"
	"strings"
	"time"
)

// Filter values that match every role or every question type.
const (
	AnyRole  = "Any Role"
	AllTypes = "All Types"
)

// Defaults applied to a fresh session.
const (
	DefaultRole      = "Frontend Engineer"
	DefaultType      = AllTypes
	DefaultTimeLimit = 60
)

// Roles lists the selectable candidate roles in display order.
var Roles = []string{
	"Frontend Engineer",
	"Backend Engineer",
	"Full Stack Developer",
	"Data/ML Engineer",
	"Product Manager",
	AnyRole,
}

// TimeLimits lists the selectable answer time limits in seconds.
var TimeLimits = []int{30, 60, 120}

// IsValidRole reports whether role is one of Roles.
func IsValidRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsValidTimeLimit reports whether seconds is one of TimeLimits.
func IsValidTimeLimit(seconds int) bool {
	for _, t := range TimeLimits {
		if t == seconds {
			return true
		}
	}
	return false
}

// Question is a single catalog entry.
type Question struct {
	ID       string `json:"id" yaml:"id"`
	Role     string `json:"role" yaml:"role"`
	Type     string `json:"type" yaml:"type"`
	Question string `json:"question" yaml:"question"`
}

// Matches reports whether q passes the role and type filters.
func (q Question) Matches(role, typ string) bool {
	roleMatch := role == AnyRole || q.Role == role || q.Role == AnyRole
	typeMatch := typ == AllTypes || q.Type == typ
	return roleMatch && typeMatch
}

// Step is the top-level view state of a practice session.
type Step string

const (
	StepSelection Step = "selection"
	StepPractice  Step = "practice"
	StepAnalysis  Step = "analysis"
)

// RecordingState is the microphone pipeline state within a practice attempt.
type RecordingState string

const (
	RecordingIdle         RecordingState = "idle"
	RecordingActive       RecordingState = "recording"
	RecordingTranscribing RecordingState = "transcribing"
)

// Scores holds the four 0..100 sub-scores of a feedback report.
type Scores struct {
	Communication int `json:"communication"`
	Structure     int `json:"structure"`
	Relevance     int `json:"relevance"`
	Timing        int `json:"timing"`
}

// Overall is the rounded mean of the four sub-scores.
func (s Scores) Overall() int {
	sum := s.Communication + s.Structure + s.Relevance + s.Timing
	return int(math.Round(float64(sum) / 4))
}

// AboveAverage is the display-only "percent above average" figure.
func (s Scores) AboveAverage() int {
	return int(math.Round(float64(s.Overall())*0.8 + 5))
}

// Feedback is the structured result of one analysis request.
type Feedback struct {
	Mistakes        []string `json:"mistakes"`
	AnnotatedAnswer string   `json:"annotatedAnswer"`
	Explanation     string   `json:"explanation"`
	SampleAnswer    string   `json:"sampleAnswer"`
	Scores          Scores   `json:"scores"`
}

// AnalyzeRequest is the input of the feedback pipeline; it doubles as the
// JSON body of POST /api/analyze.
type AnalyzeRequest struct {
	Question      string `json:"question"`
	Answer        string `json:"answer"`
	Role          string `json:"role"`
	TimeLimit     int    `json:"timeLimit"`
	RemainingTime int    `json:"remainingTime"`
}

// ElapsedSeconds is the time actually spent answering, never negative.
func (r AnalyzeRequest) ElapsedSeconds() int {
	if d := r.TimeLimit - r.RemainingTime; d > 0 {
		return d
	}
	return 0
}

// Content types understood by the capture and transcription layers.
const (
	ContentTypeWebM = "audio/webm"
	ContentTypeOgg  = "audio/ogg"
	ContentTypeMP4  = "audio/mp4"
	ContentTypeWAV  = "audio/wav"
	ContentTypeMPEG = "audio/mpeg"
	// ContentTypePCM is raw signed 16-bit little-endian PCM; it is wrapped in
	// a WAV container before upload.
	ContentTypePCM = "audio/pcm"
)

var containerExt = map[string]string{
	ContentTypeWebM: "webm",
	ContentTypeOgg:  "ogg",
	ContentTypeMP4:  "mp4",
	ContentTypeWAV:  "wav",
	ContentTypeMPEG: "mp3",
	ContentTypePCM:  "pcm",
}

// AudioArtifact is one finished recording ready for transcription.
type AudioArtifact struct {
	Data        []byte
	ContentType string
}

// Ext returns the file extension for the artifact's container type,
// ignoring MIME parameters and defaulting to webm for unknown types.
func (a AudioArtifact) Ext() string {
	ct := a.ContentType
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if ext, ok := containerExt[strings.TrimSpace(strings.ToLower(ct))]; ok {
		return ext
	}
	return "webm"
}

// ContentTypeForFilename guesses the container type from a file extension,
// defaulting to webm.
func ContentTypeForFilename(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ext == "weba" {
		ext = "webm"
	}
	for ct, e := range containerExt {
		if e == ext {
			return ct
		}
	}
	return ContentTypeWebM
}

// Filename is the multipart file name used for upload.
func (a AudioArtifact) Filename() string {
	return "answer." + a.Ext()
}

// PlaceholderAPIKey is the sample credential shipped in example env files.
const PlaceholderAPIKey = "your_key_here"

// CredentialConfigured reports whether key is a usable upstream credential.
func CredentialConfigured(key string) bool {
	key = strings.TrimSpace(key)
	return key != "" && key != PlaceholderAPIKey
}

// AppConfig holds runtime parameters set via CLI flags and config files.
type AppConfig struct {
	APIURL         string
	LLMModel       string
	STTModel       string
	PromptVariant  string
	Lang           string
	AllowedOrigins []string
	// RequestTimeout bounds each upstream call made on behalf of a
	// websocket session. Zero means no limit.
	RequestTimeout time.Duration
	// CheckUpstream adds the completion endpoint to the readiness probe.
	CheckUpstream bool
}
