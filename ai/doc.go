// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package ai defines the Embedder abstraction the core engine builds its
// default embedding pipeline stage from.
//
// Keeping Embedder as an interface rather than a concrete client lets the
// engine swap embedding backends without touching the commit or dedup
// paths that consume a vector once it exists.
//
// # Implementation Packages
//
//   - ai/openai: embedding client for OpenAI-compatible APIs (Ollama,
//     LocalAI, vLLM, or the OpenAI API itself)
//
// # Usage Example
//
//	config := ai.DefaultConfig()
//	embedder, err := openai.NewEmbedder(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	vector, err := embedder.EmbedText(ctx, "Hello world")
package ai
