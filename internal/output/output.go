// Package output turns the raw table a simulation run writes into result
// channels keyed by their semantic names.
package output

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"simcontroller/internal/simulation"
	"strconv"
	"strings"
)

// TableFile is the raw per-frame table, relative to the output directory.
const TableFile = "output.csv"

var (
	// ErrNoFrames is returned when the table has a header but no rows.
	ErrNoFrames = errors.New("output table has no frames")
	// ErrMissingChannel is returned when a required channel has no column.
	ErrMissingChannel = errors.New("output table is missing a required channel")
	// ErrReservedChannel is returned for a column that maps to a name the
	// result document uses itself.
	ErrReservedChannel = errors.New("output table uses a reserved channel name")
)

// RequiredChannels must be present in every converted result.
var RequiredChannels = []string{"elapsed_time", "temperature", "group", "state_of_matter"}

// reservedChannels collide with fields of the result document.
var reservedChannels = map[string]bool{"id": true}

// channelNames maps raw quantity names to result channel names.
var channelNames = map[string]string{
	"time":              "elapsed_time",
	"elapsed_time":      "elapsed_time",
	"Temperature_SPH":   "temperature",
	"Group":             "group",
	"StateOfMatter_SPH": "state_of_matter",
}

// ChannelName returns the result channel for a raw column name.
// Unknown columns keep their own name.
func ChannelName(column string) string {
	column = strings.TrimSpace(column)
	if name, ok := channelNames[column]; ok {
		return name
	}
	return column
}

// CSVConverter reads <dir>/output/output.csv.
type CSVConverter struct{}

// NewCSVConverter creates a converter for the CSV output table.
func NewCSVConverter() *CSVConverter {
	return &CSVConverter{}
}

// Convert parses the output table of the run in dir.
func (c *CSVConverter) Convert(ctx context.Context, dir string) (map[string][]float64, error) {
	f, err := os.Open(filepath.Join(dir, simulation.OutputDir, TableFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoFrames
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	columns := make([]string, len(header))
	channels := make(map[string][]float64, len(header))
	for i, raw := range header {
		name := ChannelName(raw)
		if reservedChannels[name] {
			return nil, fmt.Errorf("%w: %q", ErrReservedChannel, name)
		}
		if _, dup := channels[name]; dup {
			return nil, fmt.Errorf("duplicate channel %q", name)
		}
		columns[i] = name
		channels[name] = nil
	}
	for _, name := range RequiredChannels {
		if _, ok := channels[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingChannel, name)
		}
	}

	for frame := 0; ; frame++ {
		if frame%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", frame, err)
		}
		for i, cell := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("frame %d, channel %s: %w", frame, columns[i], err)
			}
			channels[columns[i]] = append(channels[columns[i]], v)
		}
	}

	if len(channels[columns[0]]) == 0 {
		return nil, ErrNoFrames
	}
	return channels, nil
}
