// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the glial backend.
//
// The streaming endpoints return a Server-Sent Events body that the session
// package consumes:
//
//	POST /v1/stream                      {"prompt": "...", "session": "default"}
//	POST /v1/conversations/{id}/stream   {"prompt": "..."}
//
// A non-2xx status is returned as *StatusError and an empty body as
// ErrNoBody. Failed requests are never retried. The conversation endpoints
// (create, get, update, list) and /healthz are thin JSON wrappers.
//
// # Usage
//
//	client, err := api.New("http://localhost:8000")
//	if err != nil {
//	    return err
//	}
//	ctrl := session.New(client.SessionStreamer("default"))
package api
