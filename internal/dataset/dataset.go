// Package dataset reads and writes the fixed-width population files. Every
// field occupies FieldWidth bytes plus one delimiter, so a worker can read its
// own rows at a computed byte offset without scanning the file.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cwbudde/ravenroost/internal/partition"
	"github.com/cwbudde/ravenroost/internal/rng"
)

const (
	// FieldWidth is the padded width of one encoded value.
	FieldWidth = 24
	// DelimBytes is the separator (',' or '\n') following every field.
	DelimBytes = 1
)

// ErrMalformed is wrapped by every parse failure.
var ErrMalformed = errors.New("malformed dataset")

// LineBytes returns the encoded size of one row.
func LineBytes(features int) int {
	return features * (FieldWidth + DelimBytes)
}

// FileName returns the canonical name of a generated dataset.
func FileName(rows, features int) string {
	return fmt.Sprintf("random-%d-%d.csv", rows, features)
}

// ParseDims extracts rows and features from a name of the form
// random-<rows>-<features>.csv. Any directory prefix is ignored.
func ParseDims(path string) (rows, features int, err error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts := strings.Split(base, "-")
	if len(parts) < 3 {
		return 0, 0, fmt.Errorf("%w: cannot infer dimensions from %q", ErrMalformed, path)
	}

	rows, err = strconv.Atoi(parts[len(parts)-2])
	if err != nil || rows <= 0 {
		return 0, 0, fmt.Errorf("%w: invalid row count in %q", ErrMalformed, path)
	}
	features, err = strconv.Atoi(parts[len(parts)-1])
	if err != nil || features <= 0 {
		return 0, 0, fmt.Errorf("%w: invalid feature count in %q", ErrMalformed, path)
	}
	return rows, features, nil
}

func encodeField(v float64) string {
	s := strconv.FormatFloat(v, 'e', 15, 64)
	if v >= 0 || s == "NaN" {
		s = "+" + s
	}
	return s + strings.Repeat(" ", FieldWidth-len(s))
}

// Write encodes rows (each of length features) to w.
func Write(w io.Writer, rows [][]float64, features int) error {
	bw := bufio.NewWriter(w)
	for i, row := range rows {
		if len(row) != features {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), features)
		}
		writeRow(bw, row)
	}
	return bw.Flush()
}

func writeRow(bw *bufio.Writer, row []float64) {
	for j, v := range row {
		bw.WriteString(encodeField(v))
		if j == len(row)-1 {
			bw.WriteByte('\n')
		} else {
			bw.WriteByte(',')
		}
	}
}

// Generate writes rows uniform samples in [lower, upper]. Row i is drawn from
// its own stream, so the file does not depend on how it is later split.
func Generate(w io.Writer, rows, features int, lower, upper float64, seed uint64) error {
	if rows <= 0 || features <= 0 {
		return fmt.Errorf("rows and features must be positive, got %d x %d", rows, features)
	}
	bw := bufio.NewWriter(w)
	row := make([]float64, features)
	for i := 0; i < rows; i++ {
		fill(rng.ForRow(seed, i), row, lower, upper)
		writeRow(bw, row)
	}
	return bw.Flush()
}

func fill(s *rng.Stream, row []float64, lower, upper float64) {
	for j := range row {
		row[j] = s.Interval(lower, upper)
	}
}

// Random returns the rows of part as a flat row-major buffer, drawing each
// row from the same per-row stream Generate uses.
func Random(part partition.Partition, features int, lower, upper float64, seed uint64) []float64 {
	buf := make([]float64, part.Rows*features)
	for i := 0; i < part.Rows; i++ {
		fill(rng.ForRow(seed, part.Start+i), buf[i*features:(i+1)*features], lower, upper)
	}
	return buf
}

// Decode parses the first rows encoded rows of buf into a flat row-major slice.
func Decode(buf []byte, rows, features int) ([]float64, error) {
	line := LineBytes(features)
	if len(buf) < rows*line {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrMalformed, len(buf), rows*line)
	}

	out := make([]float64, rows*features)
	for i := 0; i < rows; i++ {
		for j := 0; j < features; j++ {
			pos := i*line + j*(FieldWidth+DelimBytes)
			field := strings.TrimSpace(string(buf[pos : pos+FieldWidth]))
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d field %d: %v", ErrMalformed, i, j, err)
			}
			out[i*features+j] = v
		}
	}
	return out, nil
}

// ReadRows reads exactly the rows of part from the file at path.
func ReadRows(path string, part partition.Partition, features int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	line := int64(LineBytes(features))
	buf := make([]byte, int64(part.Rows)*line)
	if _, err := f.ReadAt(buf, int64(part.Start)*line); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: rows [%d, %d) beyond end of %s", ErrMalformed, part.Start, part.End(), path)
		}
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return Decode(buf, part.Rows, features)
}

// WriteFile generates a dataset under dir with the canonical name and
// returns its path.
func WriteFile(dir string, rows, features int, lower, upper float64, seed uint64) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	path := filepath.Join(dir, FileName(rows, features))

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create dataset: %w", err)
	}
	if err := Generate(f, rows, features, lower, upper, seed); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to close dataset: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to rename dataset: %w", err)
	}
	return path, nil
}
