// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and saves glial configuration.
//
// TOML, JSON and YAML files are supported. Load searches, in order:
//   - ~/.glial/config.toml
//   - ~/.glial/config.json
//   - ~/.glial/config.yaml
//   - built-in defaults
//
// GLIAL_SERVER_URL, GLIAL_SESSION, GLIAL_CONVERSATION, GLIAL_TOKEN,
// GLIAL_DEBUG and GLIAL_LOG_FILE override file values. Watch reloads a
// file when it changes on disk.
//
// Example config.toml:
//
//	[server]
//	url = "http://localhost:8000"
//	session = "default"
//
//	[ui]
//	theme = "dark"
//	show_reasoning = true
//
//	[log]
//	debug = false
//	file = "~/.glial/glial.log"
package config
