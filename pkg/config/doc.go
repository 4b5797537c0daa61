// Package config holds the installer settings and the documents an
// installation writes into its config, docker and scripts directories.
//
// Settings are read from an optional YAML file and checked with struct tags.
// Generated documents are described by CUE definitions in a SchemaRegistry;
// every artifact is validated against its definition both before it is
// written and whenever the installation is validated afterwards.
//
//	schemas := config.NewSchemaRegistry()
//	gen := config.NewGenerator(schemas, tel.Session)
//	res, err := gen.Generate(ctx, cfg.InstallDirectory, config.Artifacts(cfg, info), cfg.ForceReinstall, false)
package config
