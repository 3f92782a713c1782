// Package flagx lets several config loaders share one command line: each
// loader filters os.Args down to the flags it owns before parsing.
package flagx

import (
	"flag"
	"strings"
)

// Spec describes the flags a loader owns. Bool flags never consume the
// following argument as their value.
type Spec struct {
	Names []string
	Bools []string
}

// FilterArgs returns the subset of args that belongs to the flags in spec,
// together with their values. Both "-name" and "--name" spellings are
// accepted, as well as the "-name=value" form.
//
// A separate value is taken only if it does not itself start with "-".
func FilterArgs(args []string, spec Spec) []string {
	owned := make(map[string]bool, len(spec.Names)+len(spec.Bools))
	for _, n := range spec.Names {
		owned[n] = false
	}
	for _, n := range spec.Bools {
		owned[n] = true
	}

	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		name, _, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		isBool, ok := owned[name]
		if !ok {
			continue
		}

		filtered = append(filtered, arg)
		if hasValue || isBool {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

// ConfigFile extracts the JSON config path given with -c or -config.
// It returns "" when neither is present.
func ConfigFile(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to JSON config file")
	fs.StringVar(&path, "c", "", "path to JSON config file (short)")
	_ = fs.Parse(FilterArgs(args, Spec{Names: []string{"c", "config"}}))

	return path
}
