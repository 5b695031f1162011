// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides persistence for glial.
//
// It holds two stores on the same SQLite driver:
//
//   - Conversations: the backend's conversation table (id, title, settings
//     and an ordered list of opaque model items). MemoryConversations keeps
//     them in memory; SQLConversations keeps them in a database file.
//   - Archive: the client's local archive of finished transcripts, with
//     Markdown and JSON export.
//
// # Usage
//
//	arch, err := storage.OpenArchive(storage.DefaultArchivePath())
//	if err != nil {
//		return err
//	}
//	defer arch.Close()
//
//	id, err := arch.Save(ctx, storage.NewStoredTranscript(tr.Snapshot()))
//	metas, err := arch.List(ctx, 20)
//
// Databases live under ~/.glial/ by default.
package storage
