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

// Package s3 stores rendered documents in Amazon S3 or an S3-compatible
// service (MinIO, Cloudflare R2).
//
// Store implements processors.ObjectStore:
//
//	store, err := s3.NewStore(ctx, s3.Config{Bucket: "cv-exports", Region: "eu-west-1"})
//	err = store.Put(ctx, "pdfs/doc-1/42.pdf", pdf, "application/pdf")
//
// Without explicit keys the default AWS credential chain is used.
package s3
