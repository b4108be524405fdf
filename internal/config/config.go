// Package config binds gojit's compile-time knobs (target architecture,
// text-arena size, itable-stub search depth cap, debug logging) to flags
// and GOJIT_* environment variables, replacing the teacher's hand-rolled
// os.Args loop in main.go with viper-backed configuration.
package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Arch is a JIT compilation target host architecture.
type Arch string

const (
	ArchAMD64 Arch = "amd64"
	Arch386   Arch = "386"
)

// Config holds the resolved configuration for one gojit process.
type Config struct {
	Arch              Arch
	Debug             bool
	TextArenaPages     int
	ItableMaxDepth     int
	StackOverflowPages int
}

// Default returns the configuration that applies when no flags or
// environment variables override it.
func Default() Config {
	return Config{
		Arch:               ArchAMD64,
		Debug:              false,
		TextArenaPages:     64,
		ItableMaxDepth:      8,
		StackOverflowPages: 4,
	}
}

// BindFlags registers gojit's flags on fs and binds them through viper so
// GOJIT_ARCH, GOJIT_DEBUG, GOJIT_TEXT_ARENA_PAGES, GOJIT_ITABLE_MAX_DEPTH
// and GOJIT_STACK_OVERFLOW_PAGES override the flag defaults.
func BindFlags(fs *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("GOJIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	def := Default()
	fs.String("arch", string(def.Arch), "target host architecture: amd64 or 386")
	fs.Bool("debug", def.Debug, "enable debug-level structured logging")
	fs.Int("text-arena-pages", def.TextArenaPages, "number of pages reserved in the executable text arena")
	fs.Int("itable-max-depth", def.ItableMaxDepth, "maximum binary-search depth for the interface itable stub")
	fs.Int("stack-overflow-pages", def.StackOverflowPages, "guard pages reserved below the stack-overflow probe page")

	_ = v.BindPFlag("arch", fs.Lookup("arch"))
	_ = v.BindPFlag("debug", fs.Lookup("debug"))
	_ = v.BindPFlag("text-arena-pages", fs.Lookup("text-arena-pages"))
	_ = v.BindPFlag("itable-max-depth", fs.Lookup("itable-max-depth"))
	_ = v.BindPFlag("stack-overflow-pages", fs.Lookup("stack-overflow-pages"))
	return v
}

// Resolve materialises a Config from a bound viper instance.
func Resolve(v *viper.Viper) Config {
	return Config{
		Arch:               Arch(v.GetString("arch")),
		Debug:              v.GetBool("debug"),
		TextArenaPages:     v.GetInt("text-arena-pages"),
		ItableMaxDepth:      v.GetInt("itable-max-depth"),
		StackOverflowPages: v.GetInt("stack-overflow-pages"),
	}
}
