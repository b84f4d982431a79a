package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/authgate/internal/flagx"
)

// parseFlags applies the short flags:
//
//	-a string   listen address (e.g., ":8080")
//	-s string   base64 HMAC secret key
//	-r int      requests per minute per client IP
//	-l string   log level
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-s", "-r", "-l"})

	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "address and port to listen on")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "base64 secret key")
	fs.IntVar(&config.RateLimitPerMinute, "r", config.RateLimitPerMinute, "requests per minute per IP")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
