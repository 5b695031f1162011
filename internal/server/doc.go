// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides a replay backend for the glial streaming
// protocol.
//
// It answers prompts with scripted delta streams so the client can be run
// and tested without a model provider. Frames are written as
//
//	event: <kind>
//	data: <json payload>
//
// followed by a trailing response.usage event.
//
// # Endpoints
//
//   - GET   /healthz                          - Health check
//   - GET   /v1/conversations                 - List conversations (limit, offset)
//   - POST  /v1/conversations                 - Create a conversation
//   - GET   /v1/conversations/{id}            - Conversation with messages
//   - PATCH /v1/conversations/{id}            - Rename / change settings
//   - POST  /v1/stream                        - Stream a prompt in a session
//   - POST  /v1/conversations/{id}/stream     - Stream a prompt in a conversation
//
// Every route answers CORS preflights. Errors are {"error": "..."}.
//
// # Usage
//
//	script, err := server.LoadScript("demo.jsonl")
//	if err != nil {
//		return err
//	}
//	srv := server.New(":8000", server.WithScript(script))
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
