// Package qdrant implements storage.ChunkStore on a Qdrant collection.
//
// Each chunk is one point. The point ID is the chunk ID and the payload carries
// document_id, ordinal, page_number, filename and text, so search results can
// be turned back into chunks without a second lookup. Vectors use cosine distance.
package qdrant
