package assetpreview

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// errNotParseable marks kinds without a cheap structural summary.
var errNotParseable = errors.New("no structural summary for this kind")

// fileSummary counts structural records of an asset file. Estimated is set
// when the file was longer than the read limit and only its head was counted.
type fileSummary struct {
	Kind      string
	Records   map[string]int
	Estimated bool
}

// Complexity is the total number of structural records.
func (s *fileSummary) Complexity() int {
	total := 0
	for _, n := range s.Records {
		total += n
	}
	return total
}

type summarizer func(r io.Reader) (map[string]int, error)

var summarizers = map[string]summarizer{
	"scene": summarizeScene,
	"obj":   summarizeOBJ,
	"ma":    summarizeMayaASCII,
	"ply":   summarizePLY,
}

// capped lists the kinds whose summary is a plain record count, so reading
// only the head of the file still gives a useful estimate.
var capped = map[string]bool{
	"obj": true,
	"ma":  true,
}

// Parseable reports whether tier 1 can draw a structural summary for kind.
func Parseable(kind string) bool {
	_, ok := summarizers[kind]
	return ok
}

// summarizeFile reads the asset and counts its structural records. Record
// counts of capped kinds stop at c.summaryLimit bytes.
func (c *config) summarizeFile(id Identity) (*fileSummary, error) {
	fn, ok := summarizers[id.Kind]
	if !ok {
		return nil, errNotParseable
	}
	f, err := c.fs.Open(id.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", id.Path, err)
	}
	defer f.Close()

	var r io.Reader = f
	var limited *io.LimitedReader
	if capped[id.Kind] && c.summaryLimit > 0 {
		// One byte past the limit tells a file of exactly the limit from a longer one.
		limited = &io.LimitedReader{R: f, N: c.summaryLimit + 1}
		r = limited
	}

	records, err := fn(r)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize %s: %w", id.Path, err)
	}
	return &fileSummary{Kind: id.Kind, Records: records, Estimated: limited != nil && limited.N == 0}, nil
}

func summarizeScene(r io.Reader) (map[string]int, error) {
	nodes, err := ParseScene(r)
	if err != nil {
		return nil, err
	}
	records := map[string]int{"nodes": len(nodes)}
	for _, n := range nodes {
		records["vertices"] += n.Vertices
		records["faces"] += n.Faces
	}
	return records, nil
}

func summarizeOBJ(r io.Reader) (map[string]int, error) {
	records := map[string]int{}
	err := scanLines(r, func(line string) {
		tag, _, _ := strings.Cut(line, " ")
		switch tag {
		case "v":
			records["vertices"]++
		case "f":
			records["faces"]++
		case "o", "g":
			records["groups"]++
		}
	})
	return records, err
}

func summarizeMayaASCII(r io.Reader) (map[string]int, error) {
	records := map[string]int{}
	err := scanLines(r, func(line string) {
		if strings.HasPrefix(line, "createNode ") {
			records["nodes"]++
		} else if strings.HasPrefix(line, "connectAttr ") {
			records["connections"]++
		}
	})
	return records, err
}

// summarizePLY reads the header only.
func summarizePLY(r io.Reader) (map[string]int, error) {
	records := map[string]int{}
	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			if line != "ply" {
				return nil, errors.New("missing ply magic")
			}
			first = false
			continue
		}
		if line == "end_header" {
			return records, nil
		}
		fields := strings.Fields(line)
		if len(fields) == 3 && fields[0] == "element" {
			n, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("element %s: %w", fields[1], err)
			}
			switch fields[1] {
			case "vertex":
				records["vertices"] = n
			case "face":
				records["faces"] = n
			default:
				records[fields[1]] = n
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("ply header not terminated")
}

func scanLines(r io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, defaultBufferSize), 1024*1024)
	for scanner.Scan() {
		fn(strings.TrimSpace(scanner.Text()))
	}
	return scanner.Err()
}
