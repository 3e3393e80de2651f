// Package config loads the umbra CLI configuration with viper: defaults,
// then a yaml file, then UMBRA_* environment variables, then flags.
//
// # What this package must NOT do
//
//   - Validate client settings. umbra.Config.Validate does that at Build.
//   - Keep global viper state. Every Load uses a fresh instance.
package config
