// Copyright 2025 AxonFlow
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

/*
Package usage records AI completion usage to PostgreSQL for billing and quotas.

# Usage Recording

Recorder implements llm.UsageSink, so the orchestrator writes a row after every
successful completion:

	recorder := usage.NewRecorder(db, instanceID, log)
	if err := recorder.EnsureSchema(ctx); err != nil {
	    return err
	}
	orch, err := llm.NewOrchestrator(providers, llm.WithUsageSink(recorder))

Each row carries the request attribution (user, document, tool type,
correlation id), the provider and model that answered, token counts, cost in
mills and latency. Empty attribution fields are stored as NULL.

# Database Schema

See Schema. The ledger is append-only; aggregation happens in reporting
queries, not here.
*/
package usage
