// Package config loads runtime settings with viper from a YAML file and
// TOOLMESH_* environment variables, and converts them into the option types
// of the retry and logging packages.
package config
