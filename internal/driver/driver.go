package driver

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/houzhh15/whisper-local/internal/engine"
)

// OutputSegment is one diagnostic segment entry in the output document.
// Text is stored trimmed; silent segments are kept with empty text.
type OutputSegment struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// Result is the success document: the joined transcript, a confidence score
// in [0,1], the language, and every observed segment in order.
type Result struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	Language   string          `json:"language"`
	Segments   []OutputSegment `json:"segments"`
}

// ErrorResult is the failure document. Text and Confidence carry their zero
// values so consumers can read the same fields on either outcome.
type ErrorResult struct {
	Error      string  `json:"error"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// folder accumulates the per-segment fold shared by Collect and FoldSegments.
type folder struct {
	segments   []OutputSegment
	texts      []string
	logProbSum float64
	logProbCnt int
	hasSpeech  bool
}

func newFolder() *folder {
	// Segments must serialize as [] rather than null when nothing arrives.
	return &folder{segments: make([]OutputSegment, 0)}
}

// add folds one segment: the diagnostic entry is appended unconditionally,
// while only non-empty trimmed text contributes to the transcript and to
// the confidence average (and then only when the backend scored it).
func (f *folder) add(seg engine.Segment) {
	text := strings.TrimSpace(seg.Text)
	f.segments = append(f.segments, OutputSegment{
		Start:        seg.Start,
		End:          seg.End,
		Text:         text,
		NoSpeechProb: seg.NoSpeechProb,
	})

	if text == "" {
		return
	}
	f.hasSpeech = true
	f.texts = append(f.texts, text)
	if seg.AvgLogProb != nil {
		f.logProbSum += *seg.AvgLogProb
		f.logProbCnt++
	}
}

// result finalizes the fold into the output document.
//
// The confidence heuristic maps the mean avg_logprob into [0,1] as
// clamp(1 + mean): avg_logprob is a negative per-token log-probability, so
// values near 0 indicate high confidence. Runs with no speech report empty
// text and confidence 0 while still listing every observed segment.
func (f *folder) result(info engine.Info, fallbackLanguage string) Result {
	res := Result{
		Language: fallbackLanguage,
		Segments: f.segments,
	}
	if info.Language != "" {
		res.Language = info.Language
	}

	text := strings.TrimSpace(strings.Join(f.texts, " "))
	if !f.hasSpeech || text == "" {
		return res
	}

	mean := 0.0
	if f.logProbCnt > 0 {
		mean = f.logProbSum / float64(f.logProbCnt)
	}
	res.Text = text
	res.Confidence = clamp(1.0+mean, 0.0, 1.0)
	return res
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Collect drains the stream exactly once and folds it into a Result.
// The language falls back verbatim to fallbackLanguage (including the
// literal "auto") when the backend detected nothing.
//
// A stream failure discards everything accumulated so far: the caller gets
// the error and no partial result, matching the all-or-nothing contract of
// a one-shot run.
func Collect(stream engine.Stream, info engine.Info, fallbackLanguage string) (Result, error) {
	f := newFolder()
	for {
		seg, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Result{}, err
		}
		f.add(seg)
	}
	return f.result(info, fallbackLanguage), nil
}

// FoldSegments folds an already materialized segment slice, for callers
// that drained the stream themselves (the HTTP handler needs the raw
// segments for its verbose response as well).
func FoldSegments(segments []engine.Segment, info engine.Info, fallbackLanguage string) Result {
	f := newFolder()
	for _, seg := range segments {
		f.add(seg)
	}
	return f.result(info, fallbackLanguage)
}

// WriteResult emits the success document as a single JSON line.
func WriteResult(w io.Writer, res Result) error {
	return json.NewEncoder(w).Encode(res)
}

// WriteError emits the failure document as a single JSON line.
func WriteError(w io.Writer, err error) error {
	return json.NewEncoder(w).Encode(ErrorResult{Error: err.Error()})
}
