// Package config holds hierarchical process configuration and engine settings.
//
// A Block maps dotted keys ("edge.capacity", "source.end") to string values
// with typed accessors, descriptions and read-only locks. Blocks are loaded
// from YAML with viper, optionally overlaid by a .env file and FLOWKIT_*
// environment variables.
//
//	blk, err := config.LoadFile("pipeline.yml")
//	end, err := blk.GetInt("source.end")
//
// Settings carries the engine's own runtime settings and is loaded with
// LoadSettings.
package config
