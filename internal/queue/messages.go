package queue

// ExtractDocumentMsg asks the worker to run the extraction pipeline for one
// document. Publishing it again reprocesses the document idempotently.
type ExtractDocumentMsg struct {
	DocumentID string `json:"document_id"`
}

// DeleteDocumentMsg asks the worker to cascade-delete one document and its
// subgraph.
type DeleteDocumentMsg struct {
	DocumentID string `json:"document_id"`
}
