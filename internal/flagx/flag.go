// Package flagx holds the flag and environment plumbing shared by the
// authserver, gateway and authctl config loaders.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// ConfigEnvVar names the environment variable consulted when no -c/-config
// flag is given.
const ConfigEnvVar = "AUTHGATE_CONFIG"

// FilterArgs returns the subset of args made of allowedFlags and their values,
// so each loader can parse its own flags without tripping over the others.
//
// Accepted forms are "-c conf.json" and "--config=conf.json". A token that
// starts with '-' is never consumed as a value.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// JsonConfigFlags returns the config file path given with -c or -config on
// the process command line, falling back to $AUTHGATE_CONFIG. Empty means
// no JSON file.
func JsonConfigFlags() string {
	if path := ConfigPath(os.Args[1:]); path != "" {
		return path
	}
	return os.Getenv(ConfigEnvVar)
}

// ConfigPath extracts the -c/-config value from args. When both are
// present the last one wins.
func ConfigPath(args []string) string {
	var config string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config"}))

	return config
}
