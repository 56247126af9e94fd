// Command whisper-export converts transcription output into subtitle and
// plain-text formats. It reads the JSON result documents produced by
// whisper-transcribe (or the server's verbose responses), NDJSON segment
// dumps, or existing SRT/VTT files, and writes text, srt, vtt or json.
//
// Usage:
//
//	whisper-export -i result.json [-o out.srt] [-f text|srt|vtt|json]
//	    [-offset 1.5s] [-gap 300ms] [-dedupe 3]
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/houzhh15/whisper-local/internal/repetition"
)

// --- Local data structures ---

// Cue is one subtitle entry after parsing and transformation.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// resultSegment mirrors the segment entries of the result document: times
// are seconds as floats, text arrives already trimmed.
type resultSegment struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// resultDocument mirrors the one-line JSON documents written by the
// transcription driver. Error is set on failure documents.
type resultDocument struct {
	Text     string          `json:"text"`
	Language string          `json:"language"`
	Segments []resultSegment `json:"segments"`
	Error    string          `json:"error"`
}

// jsonCue is the json output entry, seconds as floats for round-tripping.
type jsonCue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// --- Output formatting functions ---

// formatTimestamp formats as HH:MM:SS.mmm
func formatTimestamp(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// formatTimestampSrt formats as HH:MM:SS,mmm (SRT uses comma)
func formatTimestampSrt(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func writeText(w io.Writer, cues []Cue) error {
	for _, c := range cues {
		if _, err := fmt.Fprintf(w, "[%s --> %s] %s\n", formatTimestamp(c.Start), formatTimestamp(c.End), c.Text); err != nil {
			return err
		}
	}
	return nil
}

func writeSRT(w io.Writer, cues []Cue) error {
	for i, c := range cues {
		if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", i+1, formatTimestampSrt(c.Start), formatTimestampSrt(c.End), c.Text); err != nil {
			return err
		}
	}
	return nil
}

func writeVTT(w io.Writer, cues []Cue) error {
	if _, err := fmt.Fprint(w, "WEBVTT\n\n"); err != nil {
		return err
	}
	for _, c := range cues {
		if _, err := fmt.Fprintf(w, "%s --> %s\n%s\n\n", formatTimestamp(c.Start), formatTimestamp(c.End), c.Text); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, cues []Cue) error {
	out := make([]jsonCue, 0, len(cues))
	for _, c := range cues {
		out = append(out, jsonCue{
			Start: c.Start.Seconds(),
			End:   c.End.Seconds(),
			Text:  c.Text,
		})
	}
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func writeCues(w io.Writer, cues []Cue, format string) error {
	switch format {
	case "srt":
		return writeSRT(w, cues)
	case "vtt":
		return writeVTT(w, cues)
	case "json":
		return writeJSON(w, cues)
	default:
		return writeText(w, cues)
	}
}

func validFormat(f string) bool {
	switch f {
	case "text", "srt", "vtt", "json":
		return true
	default:
		return false
	}
}

// --- Parsing ---

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// parseCues dispatches on the file extension; unknown extensions fall back
// to JSON, then SRT, then VTT.
func parseCues(data []byte, ext string) ([]Cue, error) {
	switch ext {
	case ".json", ".ndjson":
		return parseResultJSON(data)
	case ".srt":
		return parseSRT(bytes.NewReader(data))
	case ".vtt":
		return parseVTT(bytes.NewReader(data))
	default:
		if cues, err := parseResultJSON(data); err == nil {
			return cues, nil
		}
		if cues, err := parseSRT(bytes.NewReader(data)); err == nil {
			return cues, nil
		}
		if cues, err := parseVTT(bytes.NewReader(data)); err == nil {
			return cues, nil
		}
		return nil, errors.New("unrecognized input: expected result JSON, NDJSON, SRT or VTT")
	}
}

// parseResultJSON reads result documents in their common shapes: a single
// document, several concatenated documents (one per driver run), a bare
// segment array, or NDJSON segment lines. Silent segments carry no text and
// are dropped from the export.
func parseResultJSON(data []byte) ([]Cue, error) {
	// Single result document
	var doc resultDocument
	if err := json.Unmarshal(data, &doc); err == nil {
		if doc.Error != "" {
			return nil, fmt.Errorf("input is a failure document: %s", doc.Error)
		}
		if len(doc.Segments) > 0 {
			return segmentCues(doc.Segments), nil
		}
	}

	// Bare segment array
	var arr []resultSegment
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
		return segmentCues(arr), nil
	}

	// NDJSON: one segment or one result document per line
	var cues []Cue
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var d resultDocument
		if err := json.Unmarshal([]byte(line), &d); err == nil {
			if d.Error != "" {
				return nil, fmt.Errorf("input is a failure document: %s", d.Error)
			}
			if len(d.Segments) > 0 {
				cues = append(cues, segmentCues(d.Segments)...)
				continue
			}
		}
		var s resultSegment
		if err := json.Unmarshal([]byte(line), &s); err == nil && (s.Text != "" || s.End > 0) {
			cues = append(cues, segmentCues([]resultSegment{s})...)
		}
	}
	if len(cues) > 0 {
		return cues, nil
	}

	// Concatenated multi-line JSON objects by brace matching
	for _, obj := range splitConcatenatedJSONObjects(data) {
		var d resultDocument
		if err := json.Unmarshal(obj, &d); err == nil && len(d.Segments) > 0 {
			cues = append(cues, segmentCues(d.Segments)...)
		}
	}
	if len(cues) > 0 {
		return cues, nil
	}
	return nil, errors.New("no segments found in JSON")
}

func segmentCues(segs []resultSegment) []Cue {
	cues := make([]Cue, 0, len(segs))
	for _, s := range segs {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		cues = append(cues, Cue{
			Start: secondsToDuration(s.Start),
			End:   secondsToDuration(s.End),
			Text:  text,
		})
	}
	return cues
}

var (
	reSrtTime = regexp.MustCompile(`^(\d\d):(\d\d):(\d\d),(\d\d\d)\s+-->\s+(\d\d):(\d\d):(\d\d),(\d\d\d)`)
	reVttTime = regexp.MustCompile(`^(\d\d):(\d\d):(\d\d)\.(\d\d\d)\s+-->\s+(\d\d):(\d\d):(\d\d)\.(\d\d\d)`)
)

func parseSRT(r io.Reader) ([]Cue, error) {
	scanner := bufio.NewScanner(r)
	var cues []Cue
	for {
		// consume optional index line
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// expect time line; the index line may have been absent
		tline := line
		if !reSrtTime.MatchString(tline) {
			if !scanner.Scan() {
				break
			}
			tline = strings.TrimSpace(scanner.Text())
		}
		m := reSrtTime.FindStringSubmatch(tline)
		if m == nil {
			continue
		}
		start := hmsmsToDur(m[1], m[2], m[3], m[4])
		end := hmsmsToDur(m[5], m[6], m[7], m[8])
		// read text lines until blank
		var b strings.Builder
		for scanner.Scan() {
			l := scanner.Text()
			if strings.TrimSpace(l) == "" {
				break
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(l)
		}
		cues = append(cues, Cue{Start: start, End: end, Text: b.String()})
	}
	if len(cues) == 0 {
		return nil, errors.New("no segments in SRT")
	}
	return cues, nil
}

func parseVTT(r io.Reader) ([]Cue, error) {
	scanner := bufio.NewScanner(r)
	var cues []Cue
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			first = false
			if strings.HasPrefix(strings.ToUpper(line), "WEBVTT") {
				// skip header
				continue
			}
		}
		if line == "" {
			continue
		}
		m := reVttTime.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		start := hmsmsToDur(m[1], m[2], m[3], m[4])
		end := hmsmsToDur(m[5], m[6], m[7], m[8])
		var b strings.Builder
		for scanner.Scan() {
			l := scanner.Text()
			if strings.TrimSpace(l) == "" {
				break
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(l)
		}
		cues = append(cues, Cue{Start: start, End: end, Text: b.String()})
	}
	if len(cues) == 0 {
		return nil, errors.New("no segments in VTT")
	}
	return cues, nil
}

func hmsmsToDur(hh, mm, ss, ms string) time.Duration {
	h := atoi(hh)
	m := atoi(mm)
	s := atoi(ss)
	msI := atoi(ms)
	return time.Duration((h*3600+m*60+s)*1000+msI) * time.Millisecond
}

func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i] - '0'
		if c <= 9 {
			n = n*10 + int(c)
		}
	}
	return n
}

// splitConcatenatedJSONObjects scans a byte slice and extracts consecutive top-level JSON objects.
func splitConcatenatedJSONObjects(b []byte) [][]byte {
	var out [][]byte
	depth := 0
	inString := false
	escaped := false
	start := -1
	for i := 0; i < len(b); i++ {
		c := b[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					out = append(out, b[start:i+1])
					start = -1
				}
			}
		}
	}
	return out
}

// --- Transformations ---

// applyOffset shifts every cue by the given amount. Starts are clamped at
// zero; cues pushed entirely before the start of the track are dropped.
func applyOffset(cues []Cue, offset time.Duration) []Cue {
	if offset == 0 {
		return cues
	}
	out := make([]Cue, 0, len(cues))
	for _, c := range cues {
		c.Start += offset
		c.End += offset
		if c.End <= 0 {
			continue
		}
		if c.Start < 0 {
			c.Start = 0
		}
		out = append(out, c)
	}
	return out
}

// mergeClose joins consecutive cues separated by less than gap, which keeps
// subtitle lines readable when the decoder splits sentences mid-breath.
func mergeClose(cues []Cue, gap time.Duration) []Cue {
	if gap <= 0 || len(cues) < 2 {
		return cues
	}
	out := make([]Cue, 0, len(cues))
	cur := cues[0]
	for _, c := range cues[1:] {
		if c.Start-cur.End <= gap {
			if c.End > cur.End {
				cur.End = c.End
			}
			cur.Text = strings.TrimSpace(cur.Text + " " + c.Text)
			continue
		}
		out = append(out, cur)
		cur = c
	}
	return append(out, cur)
}

// collapseRepeats removes hallucination loops: runs of at least minRun
// consecutive near-identical cues keep only the first entry, with its end
// time extended to cover the whole run. Similarity comes from the simhash
// fingerprints used by the server's repetition warning.
func collapseRepeats(cues []Cue, minRun int) []Cue {
	if len(cues) == 0 {
		return cues
	}
	if minRun < 2 {
		minRun = 2
	}

	out := make([]Cue, 0, len(cues))
	group := []Cue{cues[0]}
	base := repetition.Fingerprint(cues[0].Text)

	flush := func() {
		if len(group) >= minRun {
			kept := group[0]
			kept.End = group[len(group)-1].End
			out = append(out, kept)
			return
		}
		out = append(out, group...)
	}

	for _, c := range cues[1:] {
		h := repetition.Fingerprint(c.Text)
		if repetition.HammingDistance(base, h) <= repetition.SIMHASH_THRESHOLD {
			group = append(group, c)
			base = h
			continue
		}
		flush()
		group = []Cue{c}
		base = h
	}
	flush()
	return out
}

// --- Entry point ---

func main() {
	var (
		inputFile  string
		outputFile string
		format     string
		offset     time.Duration
		gap        time.Duration
		dedupe     int
	)
	flag.Usage = func() {
		exe := filepath.Base(os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: %s -i <result.(json|ndjson|srt|vtt)> [-o out] [-f text|srt|vtt|json] [-offset 1.5s] [-gap 300ms] [-dedupe 3]\n\n", exe)
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
	}
	flag.StringVar(&inputFile, "i", "", "Input file: transcription result JSON, NDJSON, SRT or VTT (\"-\" for stdin)")
	flag.StringVar(&outputFile, "o", "", "Output file (default stdout)")
	flag.StringVar(&format, "f", "text", "Output format: text|srt|vtt|json")
	flag.DurationVar(&offset, "offset", 0, "Shift all timestamps by this amount (may be negative)")
	flag.DurationVar(&gap, "gap", 0, "Merge consecutive cues separated by less than this gap")
	flag.IntVar(&dedupe, "dedupe", 0, "Collapse runs of at least N near-identical cues (0 disables)")
	flag.Parse()

	if inputFile == "" {
		flag.Usage()
		os.Exit(2)
	}
	if !validFormat(format) {
		fmt.Fprintln(os.Stderr, "invalid -f:", format)
		flag.Usage()
		os.Exit(2)
	}

	data, err := readInput(inputFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read input:", err)
		os.Exit(1)
	}

	ext := strings.ToLower(filepath.Ext(inputFile))
	cues, err := parseCues(data, ext)
	if err != nil {
		fmt.Fprintln(os.Stderr, "parse input:", err)
		os.Exit(1)
	}

	cues = applyOffset(cues, offset)
	cues = mergeClose(cues, gap)
	if dedupe > 0 {
		cues = collapseRepeats(cues, dedupe)
	}

	out := io.Writer(os.Stdout)
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "create output:", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	if err := writeCues(out, cues, format); err != nil {
		fmt.Fprintln(os.Stderr, "write output:", err)
		os.Exit(1)
	}
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
