package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/msel-source/mefwriter/annotation"
)

// replayAnnotations reads a CSV of annotation records and writes each
// one through w, in file order. Line format is
// "<timestamp_us>,<kind>,<field>,...", where kind is one of
// Note/Seiz/Curs/Epoc and the trailing fields are kind-specific:
//
//	Note,<text>
//	Seiz,<annotator_id>,<clinical_code>,<probability>
//	Curs,<name>,<value>
//	Epoc,<name>,<text>,<duration_us>
func replayAnnotations(w *annotation.Writer, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open annotations input %s: %w", path, err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			return n, fmt.Errorf("annotations line %d: too few fields", lineNo)
		}
		timestamp, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			return n, fmt.Errorf("annotations line %d: bad timestamp: %w", lineNo, err)
		}

		kind, body, err := parseAnnotationRecord(fields[1], fields[2:])
		if err != nil {
			return n, fmt.Errorf("annotations line %d: %w", lineNo, err)
		}
		if err := w.Write(timestamp, kind, body); err != nil {
			return n, fmt.Errorf("annotations line %d: %w", lineNo, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("scan annotations input %s: %w", path, err)
	}
	return n, nil
}

func parseAnnotationRecord(kindField string, rest []string) (annotation.RecordKind, annotation.RecordBody, error) {
	switch strings.TrimSpace(kindField) {
	case "Note":
		if len(rest) < 1 {
			return 0, nil, fmt.Errorf("Note requires <text>")
		}
		return annotation.Note, annotation.NoteBody{Text: rest[0]}, nil
	case "Seiz":
		if len(rest) < 3 {
			return 0, nil, fmt.Errorf("Seiz requires <annotator_id>,<clinical_code>,<probability>")
		}
		code, err := strconv.ParseInt(strings.TrimSpace(rest[1]), 10, 32)
		if err != nil {
			return 0, nil, fmt.Errorf("bad clinical_code: %w", err)
		}
		prob, err := strconv.ParseFloat(strings.TrimSpace(rest[2]), 64)
		if err != nil {
			return 0, nil, fmt.Errorf("bad probability: %w", err)
		}
		return annotation.Seiz, annotation.SeizBody{AnnotatorID: rest[0], ClinicalCode: int32(code), Probability: prob}, nil
	case "Curs":
		if len(rest) < 2 {
			return 0, nil, fmt.Errorf("Curs requires <name>,<value>")
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(rest[1]), 64)
		if err != nil {
			return 0, nil, fmt.Errorf("bad value: %w", err)
		}
		return annotation.Curs, annotation.CursBody{Name: rest[0], Value: value}, nil
	case "Epoc":
		if len(rest) < 3 {
			return 0, nil, fmt.Errorf("Epoc requires <name>,<text>,<duration_us>")
		}
		duration, err := strconv.ParseInt(strings.TrimSpace(rest[2]), 10, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("bad duration_us: %w", err)
		}
		return annotation.Epoc, annotation.EpocBody{Name: rest[0], Text: rest[1], DurationMicroseconds: duration}, nil
	default:
		return 0, nil, fmt.Errorf("unknown annotation kind %q", kindField)
	}
}
