package scaffold

import "github.com/noxsuite/noxinstall/pkg/engine"

// Layout returns the NoxSuite directory tree for a plan. Mobile and AI
// directories are only present when the feature is enabled.
func Layout(cfg engine.InstallConfig) Tree {
	frontend := Tree{"noxpanel-ui": nil}
	if cfg.EnableMobile {
		frontend["noxgo-mobile"] = nil
	}

	services := Tree{}
	config := Tree{"modules": nil}
	if cfg.EnableAI {
		services["langflow"] = nil
		services["ollama"] = nil
		config["ai"] = nil
	}

	return Tree{
		"frontend": frontend,
		"backend": {
			"fastapi":      nil,
			"flask-legacy": nil,
		},
		"services": services,
		"data": {
			"postgres": nil,
			"redis":    nil,
			"logs":     nil,
		},
		"config":  config,
		"scripts": nil,
		"docker":  nil,
		"plugins": nil,
	}
}

// RequiredDirs lists the directories a complete installation must contain.
func RequiredDirs(base string, cfg engine.InstallConfig) []string {
	return Flatten(base, Layout(cfg))
}
