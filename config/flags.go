package config

import (
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"
)

// FlagSet declares the flags read by FromFlags.
func FlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.Bool("metering", false, "charge points for executed instructions")
	flags.Int64("gas-limit", 0, "points budget of each instance")
	flags.Int64("unmetered-locals", 0, "declared locals per function that are free of charge")
	flags.Bool("trace", false, "record the last executed instruction")
	flags.Bool("breakpoints", false, "allow interrupting running calls")
	flags.Int64("memory-limit-pages", 0, "maximum memory per instance in 64KiB pages")
	flags.Int64("cache-size", 0, "number of compiled modules kept in memory")
	return flags
}

// FromFlags returns the layer of flags set on the command line. flags
// must contain the flags declared by FlagSet.
func FromFlags(flags *pflag.FlagSet) Config {
	return Config{
		Metering:           getNullBool(flags, "metering"),
		GasLimit:           getNullInt64(flags, "gas-limit"),
		UnmeteredLocals:    getNullInt64(flags, "unmetered-locals"),
		OpcodeTrace:        getNullBool(flags, "trace"),
		RuntimeBreakpoints: getNullBool(flags, "breakpoints"),
		MemoryLimitPages:   getNullInt64(flags, "memory-limit-pages"),
		CacheSize:          getNullInt64(flags, "cache-size"),
	}
}

// Consolidate layers defaults, the file at path (skipped when empty), the
// environment and flags, then validates the result.
func Consolidate(path string, flags *pflag.FlagSet) (Config, error) {
	conf := Default()
	if path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		conf = conf.Apply(file)
	}
	env, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	conf = conf.Apply(env)
	if flags != nil {
		conf = conf.Apply(FromFlags(flags))
	}
	return conf, conf.Validate()
}

func getNullBool(flags *pflag.FlagSet, key string) null.Bool {
	v, err := flags.GetBool(key)
	if err != nil {
		panic(err)
	}
	return null.NewBool(v, flags.Changed(key))
}

func getNullInt64(flags *pflag.FlagSet, key string) null.Int {
	v, err := flags.GetInt64(key)
	if err != nil {
		panic(err)
	}
	return null.NewInt(v, flags.Changed(key))
}
