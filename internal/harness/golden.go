package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTrace renders a result as the text stored in golden files: a
// header, one tab-separated line per event and the final instance states.
func FormatTrace(name string, result *Result) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "# scenario: %s\n", name)
	fmt.Fprintf(&buf, "# seq\tinstance\ttype\tnode\tflow\n")
	for _, ev := range result.Trace {
		flow := ev.Flow
		if flow == "" {
			flow = "-"
		}
		fmt.Fprintf(&buf, "%d\t%s\t%s\t%s\t%s\n", ev.Seq, ev.Instance, ev.Type, ev.Node, flow)
	}
	fmt.Fprintf(&buf, "# instances\n")
	for _, inst := range result.Instances {
		fmt.Fprintf(&buf, "%s\t%s\n", inst.Alias, inst.Status)
	}
	return []byte(buf.String())
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// RunWithGolden executes a scenario deterministically and compares its
// trace with testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	newGoldie(t).Assert(t, scenario.Name, FormatTrace(scenario.Name, result))
	return result, nil
}

// AssertGolden compares an existing result with a golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()
	newGoldie(t).Assert(t, name, FormatTrace(name, result))
}
