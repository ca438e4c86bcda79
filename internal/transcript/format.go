package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
)

// Format is an output representation of a transcript.
type Format string

const (
	FormatTXT  Format = "txt"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
	FormatJSON Format = "json"
)

// Formats lists every supported format in rendering order.
func Formats() []Format {
	return []Format{FormatTXT, FormatSRT, FormatVTT, FormatJSON}
}

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")))
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// ParseFormats splits a comma-separated list, dropping duplicates.
func ParseFormats(csv string) ([]Format, error) {
	var out []Format
	seen := make(map[Format]bool)
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		f, err := ParseFormat(part)
		if err != nil {
			return nil, err
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no output formats in %q", csv)
	}
	return out, nil
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string { return string(f) }

// ContentType returns the MIME type used when serving or storing f.
func (f Format) ContentType() string {
	switch f {
	case FormatSRT:
		return "application/x-subrip"
	case FormatVTT:
		return "text/vtt"
	case FormatJSON:
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Render writes t to w in format f.
func Render(w io.Writer, t *Transcript, f Format) error {
	bw := bufio.NewWriter(w)
	var err error
	switch f {
	case FormatTXT:
		err = renderTXT(bw, t.Utterances)
	case FormatSRT:
		err = renderSRT(bw, t.Utterances)
	case FormatVTT:
		err = renderVTT(bw, t.Utterances)
	case FormatJSON:
		enc := json.NewEncoder(bw)
		enc.SetIndent("", "  ")
		err = enc.Encode(t)
	default:
		return fmt.Errorf("unknown format %q", f)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

func renderTXT(w io.Writer, us []Utterance) error {
	for _, u := range us {
		if _, err := fmt.Fprintf(w, "[%s - %s] %s\n", ClockTimestamp(u.Start), ClockTimestamp(u.End), lineText(u)); err != nil {
			return err
		}
	}
	return nil
}

func renderSRT(w io.Writer, us []Utterance) error {
	for i, u := range us {
		if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", i+1, SRTTimestamp(u.Start), SRTTimestamp(u.End), lineText(u)); err != nil {
			return err
		}
	}
	return nil
}

func renderVTT(w io.Writer, us []Utterance) error {
	if _, err := io.WriteString(w, "WEBVTT\n\n"); err != nil {
		return err
	}
	for _, u := range us {
		if _, err := fmt.Fprintf(w, "%s --> %s\n%s\n\n", VTTTimestamp(u.Start), VTTTimestamp(u.End), lineText(u)); err != nil {
			return err
		}
	}
	return nil
}

func lineText(u Utterance) string {
	text := strings.ReplaceAll(u.Text, "\n", " ")
	if u.Speaker == nil {
		return text
	}
	return *u.Speaker + ": " + text
}

// SRTTimestamp renders HH:MM:SS,mmm.
func SRTTimestamp(sec float64) string { return stamp(sec, ',') }

// VTTTimestamp renders HH:MM:SS.mmm.
func VTTTimestamp(sec float64) string { return stamp(sec, '.') }

// ClockTimestamp renders HH:MM:SS, dropping the fraction.
func ClockTimestamp(sec float64) string {
	ms := millis(sec)
	return fmt.Sprintf("%02d:%02d:%02d", ms/3_600_000, ms/60_000%60, ms/1000%60)
}

func stamp(sec float64, sep byte) string {
	ms := millis(sec)
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", ms/3_600_000, ms/60_000%60, ms/1000%60, sep, ms%1000)
}

// millis floors seconds to whole milliseconds. The 1ns nudge (1e-6 ms)
// absorbs binary representation error so 65.4 stays 65400 and not 65399.
func millis(sec float64) int64 {
	if math.IsNaN(sec) || sec <= 0 {
		return 0
	}
	if math.IsInf(sec, 1) {
		return math.MaxInt64 / 2
	}
	return int64(math.Floor(sec*1000 + 1e-6))
}
