package assetpreview

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SceneNode is one record of a .scene file:
//
//	node <name> [type=<t>] [parent=<name>] [verts=<n>] [faces=<n>]
//	     [material=<m>[,<m>...]] [connect=<plugin>[,<plugin>...]]
//	     [anim=<start>-<end>] [locked]
//
// Blank lines and lines starting with '#' are ignored.
type SceneNode struct {
	Name        string
	Type        string
	Parent      string
	Vertices    int
	Faces       int
	Materials   []string
	Connections []string
	Locked      bool
	Animated    bool
	TimeStart   float64
	TimeEnd     float64
}

// ParseScene reads every node record of a .scene file.
func ParseScene(r io.Reader) ([]SceneNode, error) {
	var nodes []SceneNode
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if fields[0] != "node" {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: node record without a name", line)
		}
		node, err := parseNode(fields[1], fields[2:])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		nodes = append(nodes, node)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scene: %w", err)
	}
	return nodes, nil
}

func parseNode(name string, attrs []string) (SceneNode, error) {
	node := SceneNode{Name: name, Type: "transform"}
	for _, attr := range attrs {
		key, value, hasValue := strings.Cut(attr, "=")
		if !hasValue {
			if key == "locked" {
				node.Locked = true
				continue
			}
			return node, fmt.Errorf("node %s: unknown flag %q", name, key)
		}

		var err error
		switch key {
		case "type":
			node.Type = value
		case "parent":
			node.Parent = value
		case "verts":
			node.Vertices, err = strconv.Atoi(value)
		case "faces":
			node.Faces, err = strconv.Atoi(value)
		case "material":
			node.Materials = splitList(value)
		case "connect":
			node.Connections = splitList(value)
		case "anim":
			node.TimeStart, node.TimeEnd, err = parseRange(value)
			node.Animated = err == nil
		default:
			// Unknown attributes are kept out of the model.
		}
		if err != nil {
			return node, fmt.Errorf("node %s: %s: %w", name, key, err)
		}
	}
	return node, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseRange reads "start-end". Either bound may be negative, so the
// separator is the first '-' that follows a digit or a decimal point.
func parseRange(value string) (float64, float64, error) {
	sep := -1
	for i := 1; i < len(value); i++ {
		if value[i] == '-' && (isDigit(value[i-1]) || value[i-1] == '.') {
			sep = i
			break
		}
	}
	if sep < 0 {
		return 0, 0, fmt.Errorf("range %q is not start-end", value)
	}
	startText, endText := value[:sep], value[sep+1:]
	start, err := strconv.ParseFloat(startText, 64)
	if err != nil {
		return 0, 0, err
	}
	end, err := strconv.ParseFloat(endText, 64)
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("range %q ends before it starts", value)
	}
	return start, end, nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
