package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	labelRe  = regexp.MustCompile(`^(Speaker \d+): (.*)$`)
	txtRe    = regexp.MustCompile(`^\[(\d+:\d{2}:\d{2}) - (\d+:\d{2}:\d{2})\] ?(.*)$`)
	cueRe    = regexp.MustCompile(`^(\d+:\d{2}:\d{2}[.,]\d{3}) --> (\d+:\d{2}:\d{2}[.,]\d{3})`)
	stampRe  = regexp.MustCompile(`^(\d+):(\d{2}):(\d{2})(?:[.,](\d{3}))?$`)
	digitsRe = regexp.MustCompile(`^\d+$`)
)

// Parse reads a transcript previously produced by Render. Only utterances
// are recovered for TXT, SRT and VTT; JSON restores every field.
//
// Render labels every utterance or none, so a leading "Speaker N: " is taken
// as a label only when all utterances carry one. An undiarized transcript
// whose every utterance happens to start that way is still read as labeled;
// use ParseUnlabeled when the source is known to be undiarized.
func Parse(r io.Reader, f Format) (*Transcript, error) {
	return parse(r, f, true)
}

// ParseUnlabeled is Parse for undiarized transcripts: utterance text is kept
// verbatim and no speaker is set.
func ParseUnlabeled(r io.Reader, f Format) (*Transcript, error) {
	return parse(r, f, false)
}

func parse(r io.Reader, f Format, labels bool) (*Transcript, error) {
	if f == FormatJSON {
		var t Transcript
		if err := json.NewDecoder(r).Decode(&t); err != nil {
			return nil, fmt.Errorf("decode json transcript: %w", err)
		}
		return &t, nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var lines []string
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var (
		us  []Utterance
		err error
	)
	switch f {
	case FormatTXT:
		us, err = parseTXT(lines)
	case FormatSRT, FormatVTT:
		us, err = parseCues(lines)
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}
	if err != nil {
		return nil, err
	}
	if labels {
		splitLabels(us)
	}
	return &Transcript{Utterances: us}, nil
}

func parseTXT(lines []string) ([]Utterance, error) {
	var out []Utterance
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := txtRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("line %d: malformed txt line %q", i+1, line)
		}
		start, _ := ParseTimestamp(m[1])
		end, _ := ParseTimestamp(m[2])
		out = append(out, Utterance{Start: start, End: end, Text: m[3]})
	}
	return out, nil
}

// parseCues handles both SRT and VTT: a header or index line is skipped,
// then a timing line, then text lines until a blank line.
func parseCues(lines []string) ([]Utterance, error) {
	var out []Utterance
	for i := 0; i < len(lines); i++ {
		m := cueRe.FindStringSubmatch(lines[i])
		if m == nil {
			line := strings.TrimSpace(lines[i])
			if line == "" || line == "WEBVTT" || digitsRe.MatchString(line) {
				continue
			}
			return nil, fmt.Errorf("line %d: expected cue timing, got %q", i+1, lines[i])
		}
		start, err := ParseTimestamp(m[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		end, err := ParseTimestamp(m[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		var text []string
		for i+1 < len(lines) && lines[i+1] != "" {
			i++
			text = append(text, lines[i])
		}
		out = append(out, Utterance{Start: start, End: end, Text: strings.Join(text, " ")})
	}
	return out, nil
}

// splitLabels moves leading speaker labels out of the text, but only when
// every utterance has one.
func splitLabels(us []Utterance) {
	matches := make([][]string, len(us))
	for i, u := range us {
		if matches[i] = labelRe.FindStringSubmatch(u.Text); matches[i] == nil {
			return
		}
	}
	for i, m := range matches {
		us[i].Speaker = labelPtr(m[1])
		us[i].Text = m[2]
	}
}

// ParseTimestamp accepts HH:MM:SS, HH:MM:SS,mmm and HH:MM:SS.mmm.
func ParseTimestamp(s string) (float64, error) {
	m := stampRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}
	h, _ := strconv.ParseInt(m[1], 10, 64)
	min, _ := strconv.ParseInt(m[2], 10, 64)
	sec, _ := strconv.ParseInt(m[3], 10, 64)
	var ms int64
	if m[4] != "" {
		ms, _ = strconv.ParseInt(m[4], 10, 64)
	}
	total := ((h*60+min)*60+sec)*1000 + ms
	return float64(total) / 1000, nil
}
