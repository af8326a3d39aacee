package options

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/fnbench/fnbench"
)

// parseDescriptorOptions recovers the merged option document from a
// previous run's descriptor. The descriptor is markdown; the options
// live in a fenced JSON block under the runtime options heading.
func parseDescriptorOptions(path string) (map[string]interface{}, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening descriptor '%s'", path)
	}
	defer file.Close()

	var block strings.Builder
	inSection := false
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, fnbench.DescriptorOptionsHeading):
			inSection = true
		case inSection && strings.HasPrefix(line, "#"):
			inSection = false
		case inSection && strings.HasPrefix(strings.TrimSpace(line), "```"):
		case inSection:
			block.WriteString(line)
			block.WriteString("\n")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading descriptor '%s'", path)
	}

	text := strings.TrimSpace(block.String())
	if text == "" {
		return nil, &ConfigConflictError{Reason: fmt.Sprintf("descriptor '%s' has no runtime options section", path)}
	}

	doc := map[string]interface{}{}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, &ConfigConflictError{Reason: fmt.Sprintf("parsing runtime options in '%s': %s", path, err)}
	}
	return doc, nil
}
