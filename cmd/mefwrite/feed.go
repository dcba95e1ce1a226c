package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/msel-source/mefwriter/channel"
)

// csvSampleFeed adapts a "<timestamp_us>,<sample>" CSV file (one pair
// per line, monotone non-decreasing timestamps) into a channel.Feed,
// batching lines into batchSize-sized calls so Write is not invoked once
// per sample.
type csvSampleFeed struct {
	f         *os.File
	scanner   *bufio.Scanner
	batchSize int
	line      int
}

func newCSVSampleFeed(path string, batchSize int) (channel.Feed, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open sample input %s: %w", path, err)
	}
	feed := &csvSampleFeed{f: f, scanner: bufio.NewScanner(f), batchSize: batchSize}
	return feed.next, f, nil
}

func (c *csvSampleFeed) next() ([]int64, []int32, bool) {
	times := make([]int64, 0, c.batchSize)
	samples := make([]int32, 0, c.batchSize)
	for len(times) < c.batchSize && c.scanner.Scan() {
		c.line++
		line := strings.TrimSpace(c.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			continue
		}
		t, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			continue
		}
		s, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 32)
		if err != nil {
			continue
		}
		times = append(times, t)
		samples = append(samples, int32(s))
	}
	if len(times) == 0 {
		return nil, nil, false
	}
	return times, samples, true
}
